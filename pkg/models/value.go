package models

import (
	"database/sql/driver"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which scalar a Value holds
type Kind int

const (
	Null Kind = iota
	Text
	Integer
	Float
	Boolean
	Timestamp
)

// TimestampLayout is the MySQL DATETIME literal layout
const TimestampLayout = "2006-01-02 15:04:05"

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Boolean:
		return "boolean"
	case Timestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is a typed scalar read from a table cell
type Value struct {
	Kind Kind
	text string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

func NullValue() Value { return Value{Kind: Null} }
func TextValue(s string) Value { return Value{Kind: Text, text: s} }
func IntegerValue(i int64) Value { return Value{Kind: Integer, i: i} }
func FloatValue(f float64) Value { return Value{Kind: Float, f: f} }
func BooleanValue(b bool) Value { return Value{Kind: Boolean, b: b} }
func TimestampValue(t time.Time) Value { return Value{Kind: Timestamp, t: t} }

func (v Value) IsNull() bool { return v.Kind == Null }

// Text returns the text payload, empty for other kinds
func (v Value) Text() string { return v.text }

// Int returns the integer payload
func (v Value) Int() int64 { return v.i }

// Float returns the floating-point payload
func (v Value) Float() float64 { return v.f }

// Bool returns the boolean payload
func (v Value) Bool() bool { return v.b }

// Time returns the timestamp payload
func (v Value) Time() time.Time { return v.t }

// String renders the value without any SQL quoting. Null renders as NULL.
func (v Value) String() string {
	switch v.Kind {
	case Null:
		return "NULL"
	case Text:
		return v.text
	case Integer:
		return strconv.FormatInt(v.i, 10)
	case Float:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case Boolean:
		if v.b {
			return "1"
		}
		return "0"
	case Timestamp:
		return v.t.Format(TimestampLayout)
	default:
		return ""
	}
}

// Equal reports whether both values hold the same kind and payload.
// Timestamps compare by instant.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == Timestamp {
		return v.t.Equal(o.t)
	}
	return v.String() == o.String()
}

// Arg returns the value as a driver argument for bound parameters
func (v Value) Arg() driver.Value {
	switch v.Kind {
	case Text:
		return v.text
	case Integer:
		return v.i
	case Float:
		return v.f
	case Boolean:
		return v.b
	case Timestamp:
		return v.t
	default:
		return nil
	}
}

// ValueOf converts a scanned driver value into a Value. dbType is the
// column's database type name and is only used to decode raw bytes.
func ValueOf(src interface{}, dbType string) Value {
	switch v := src.(type) {
	case nil:
		return NullValue()
	case string:
		return fromBytes(v, dbType)
	case []byte:
		return fromBytes(string(v), dbType)
	case int64:
		return IntegerValue(v)
	case int32:
		return IntegerValue(int64(v))
	case int:
		return IntegerValue(int64(v))
	case uint64:
		if v > 1<<63-1 {
			return TextValue(strconv.FormatUint(v, 10))
		}
		return IntegerValue(int64(v))
	case uint32:
		return IntegerValue(int64(v))
	case float64:
		return FloatValue(v)
	case float32:
		return FloatValue(float64(v))
	case bool:
		return BooleanValue(v)
	case time.Time:
		return TimestampValue(v)
	default:
		return TextValue("")
	}
}

func fromBytes(s, dbType string) Value {
	switch strings.TrimPrefix(strings.ToUpper(dbType), "UNSIGNED ") {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return IntegerValue(i)
		}
	case "FLOAT", "DOUBLE", "REAL":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return FloatValue(f)
		}
	}
	return TextValue(s)
}

// Field is one named cell of a Row
type Field struct {
	Name  string
	Value Value
}

// Row is an ordered set of uniquely named cells
type Row []Field

// NewRow builds a row from parallel name and value slices
func NewRow(names []string, values []Value) Row {
	row := make(Row, 0, len(names))
	for i, name := range names {
		row = row.Set(name, values[i])
	}
	return row
}

// Set replaces the named cell or appends it when missing
func (r Row) Set(name string, v Value) Row {
	for i := range r {
		if r[i].Name == name {
			r[i].Value = v
			return r
		}
	}
	return append(r, Field{Name: name, Value: v})
}

// Get returns the named cell
func (r Row) Get(name string) (Value, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Columns returns the cell names in order
func (r Row) Columns() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}
