package generator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/bitbaso/Arindu/pkg/models"
	"github.com/jaswdr/faker"
	"github.com/sirupsen/logrus"
)

// MaxAgeDays bounds how far in the past generated archival dates go
const MaxAgeDays = 5000

var (
	enumRegex  = regexp.MustCompile(`^(?:enum|set)\((.+)\)$`)
	valueRegex = regexp.MustCompile(`'([^']*)'`)
)

// DataGenerator generates fake data based on column types and constraints
type DataGenerator struct {
	Faker      faker.Faker
	DateColumn string
	Now        func() time.Time
	Logger     *logrus.Logger
}

// NewDataGenerator creates a generator that spreads dateColumn values over
// the last MaxAgeDays days so some rows are always eligible for archival.
func NewDataGenerator(dateColumn string, logger *logrus.Logger) *DataGenerator {
	return &DataGenerator{
		Faker:      faker.New(),
		DateColumn: dateColumn,
		Now:        time.Now,
		Logger:     logger,
	}
}

// InsertableColumns drops the columns MySQL fills on its own
func InsertableColumns(columns []models.Column) []models.Column {
	var result []models.Column
	for _, column := range columns {
		extra := strings.ToLower(column.Extra)
		if strings.Contains(extra, "auto_increment") || strings.Contains(extra, "generated") {
			continue
		}
		result = append(result, column)
	}
	return result
}

// GenerateRow generates one value per column, in column order
func (dg *DataGenerator) GenerateRow(columns []models.Column) []interface{} {
	values := make([]interface{}, len(columns))
	for i, column := range columns {
		values[i] = dg.GenerateData(column)
	}
	return values
}

// GenerateData generates data for a column based on its type and constraints
func (dg *DataGenerator) GenerateData(column models.Column) interface{} {
	if dg.DateColumn != "" && strings.EqualFold(column.Name, dg.DateColumn) {
		return dg.archivalDate()
	}

	columnName := strings.ToLower(column.Name)
	dataType := strings.ToLower(column.DataType)

	if isText(dataType) {
		switch {
		case strings.Contains(columnName, "email"):
			return dg.fit(column, dg.Faker.Internet().Email())
		case strings.Contains(columnName, "first") && strings.Contains(columnName, "name"):
			return dg.fit(column, dg.Faker.Person().FirstName())
		case strings.Contains(columnName, "last") && strings.Contains(columnName, "name"):
			return dg.fit(column, dg.Faker.Person().LastName())
		case strings.Contains(columnName, "user"):
			return dg.fit(column, dg.Faker.Internet().User())
		case strings.Contains(columnName, "name"):
			return dg.fit(column, dg.Faker.Person().Name())
		case strings.Contains(columnName, "phone"):
			return dg.fit(column, dg.Faker.Phone().Number())
		case strings.Contains(columnName, "city"):
			return dg.fit(column, dg.Faker.Address().City())
		case strings.Contains(columnName, "country"):
			return dg.fit(column, dg.Faker.Address().Country())
		case strings.Contains(columnName, "url"):
			return dg.fit(column, dg.Faker.Internet().URL())
		case strings.Contains(columnName, "ip"):
			return dg.fit(column, dg.Faker.Internet().Ipv4())
		case strings.Contains(columnName, "uuid"):
			return dg.fit(column, dg.Faker.UUID().V4())
		}
	}

	switch dataType {
	case "varchar", "char", "text", "tinytext", "mediumtext", "longtext":
		return dg.generateString(column)
	case "int", "tinyint", "smallint", "mediumint", "bigint":
		return dg.generateInteger(column)
	case "float", "double", "decimal":
		return dg.generateFloat(column)
	case "date", "datetime", "timestamp":
		return dg.generateDateTime()
	case "time":
		return fmt.Sprintf("%02d:%02d:%02d", rand.Intn(24), rand.Intn(60), rand.Intn(60))
	case "year":
		return rand.Intn(dg.Now().Year()-1970+1) + 1970
	case "enum":
		return dg.generateEnum(column)
	case "json":
		return dg.generateJSON()
	case "boolean", "bool":
		return rand.Intn(2) == 1
	default:
		dg.Logger.Warningf("No specific generator for type %s, using default string", dataType)
		return dg.fit(column, dg.Faker.Lorem().Word())
	}
}

func isText(dataType string) bool {
	switch dataType {
	case "varchar", "char", "text", "tinytext", "mediumtext", "longtext":
		return true
	}
	return false
}

// archivalDate is 1 to MaxAgeDays-1 days in the past
func (dg *DataGenerator) archivalDate() time.Time {
	days := rand.Intn(MaxAgeDays-1) + 1
	return dg.Now().AddDate(0, 0, -days).Truncate(time.Second)
}

// fit truncates s to the column's character limit
func (dg *DataGenerator) fit(column models.Column, s string) string {
	if column.CharMaxLength != nil && int64(len(s)) > *column.CharMaxLength {
		return s[:*column.CharMaxLength]
	}
	return s
}

// generateString generates a string value based on column constraints
func (dg *DataGenerator) generateString(column models.Column) string {
	var maxLength int64 = 255
	if column.CharMaxLength != nil {
		maxLength = *column.CharMaxLength
	}
	if maxLength > 100 {
		maxLength = 100
	}
	if maxLength <= 0 {
		return ""
	}

	length := rand.Int63n(maxLength) + 1
	var s string
	switch {
	case length <= 10:
		s = dg.Faker.RandomStringWithLength(int(length))
	case length <= 50:
		s = dg.Faker.Lorem().Sentence(int(length / 10))
	default:
		s = dg.Faker.Lorem().Paragraph(int(length / 30))
	}
	return dg.fit(column, s)
}

// generateInteger generates an integer value based on column constraints
func (dg *DataGenerator) generateInteger(column models.Column) interface{} {
	columnType := strings.ToLower(column.ColumnType)
	unsigned := strings.Contains(columnType, "unsigned")

	switch strings.ToLower(column.DataType) {
	case "tinyint":
		if strings.Contains(columnType, "tinyint(1)") {
			return rand.Intn(2)
		}
		if unsigned {
			return rand.Intn(256)
		}
		return rand.Intn(256) - 128
	case "smallint":
		if unsigned {
			return rand.Intn(65536)
		}
		return rand.Intn(65536) - 32768
	case "mediumint":
		if unsigned {
			return rand.Intn(16777216)
		}
		return rand.Intn(16777216) - 8388608
	case "bigint":
		return rand.Int63()
	default:
		return rand.Int31()
	}
}

// generateFloat generates a float value rounded to the column scale
func (dg *DataGenerator) generateFloat(column models.Column) float64 {
	value := rand.Float64() * 1000
	if column.NumericScale != nil {
		multiplier := 1.0
		for i := int64(0); i < *column.NumericScale; i++ {
			multiplier *= 10
		}
		value = float64(int64(value*multiplier)) / multiplier
	}
	return value
}

// generateDateTime generates a datetime within the last 5 years
func (dg *DataGenerator) generateDateTime() time.Time {
	seconds := rand.Int63n(int64(5 * 365 * 24 * time.Hour / time.Second))
	return dg.Now().Add(-time.Duration(seconds) * time.Second).Truncate(time.Second)
}

// generateEnum picks one of the values listed in an enum('a','b') column type
func (dg *DataGenerator) generateEnum(column models.Column) string {
	matches := enumRegex.FindStringSubmatch(column.ColumnType)
	if len(matches) < 2 {
		return ""
	}

	var values []string
	for _, match := range valueRegex.FindAllStringSubmatch(matches[1], -1) {
		values = append(values, match[1])
	}
	if len(values) == 0 {
		return ""
	}
	return values[rand.Intn(len(values))]
}

func (dg *DataGenerator) generateJSON() string {
	data := map[string]interface{}{
		"id":      rand.Intn(1000),
		"name":    dg.Faker.Lorem().Word(),
		"value":   dg.Faker.Lorem().Sentence(5),
		"enabled": rand.Intn(2) == 1,
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		dg.Logger.Errorf("Error generating JSON: %v", err)
		return "{}"
	}
	return string(jsonBytes)
}
