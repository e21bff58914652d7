package ingestion

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator"

	"github.com/maraichr/sheetflow/pkg/models"
)

// columnAliases maps a normalized header (lowercase, alphanumerics only) to
// the destination field it feeds.
var columnAliases = map[string]string{
	"storename":      "storeName",
	"name":           "storeName",
	"storeaddress":   "storeAddress",
	"address":        "storeAddress",
	"cityname":       "cityName",
	"city":           "cityName",
	"regionname":     "regionName",
	"region":         "regionName",
	"retailername":   "retailerName",
	"retailer":       "retailerName",
	"storetype":      "storeType",
	"type":           "storeType",
	"storelongitude": "storeLongitude",
	"longitude":      "storeLongitude",
	"lng":            "storeLongitude",
	"lon":            "storeLongitude",
	"storelatitude":  "storeLatitude",
	"latitude":       "storeLatitude",
	"lat":            "storeLatitude",
}

// Validator turns raw rows into destination records.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Validate maps row onto a StoreRecord and checks it. The returned error
// message is suitable for a processing error record.
func (v *Validator) Validate(row models.Row) (*models.StoreRecord, error) {
	fields := make(map[string]string, len(row))
	for col, val := range row {
		if name, ok := columnAliases[normalizeColumn(col)]; ok {
			fields[name] = strings.TrimSpace(val)
		}
	}

	rec := &models.StoreRecord{
		StoreName:    fields["storeName"],
		StoreAddress: fields["storeAddress"],
		CityName:     fields["cityName"],
		RegionName:   fields["regionName"],
		RetailerName: fields["retailerName"],
		StoreType:    fields["storeType"],
		Longitude:    fields["storeLongitude"],
		Latitude:     fields["storeLatitude"],
	}

	if err := v.v.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, errors.New(describe(verrs))
		}
		return nil, err
	}
	return rec, nil
}

// ValidateRows validates a chunk in order. Row numbers are 1-based within the
// chunk.
func (v *Validator) ValidateRows(rows []models.Row) []models.RowResult {
	out := make([]models.RowResult, len(rows))
	for i, row := range rows {
		res := models.RowResult{RowNumber: i + 1, Raw: row}
		rec, err := v.Validate(row)
		if err != nil {
			res.Err = err.Error()
		} else {
			res.Record = rec
		}
		out[i] = res
	}
	return out
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "latitude", "longitude":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid %s", fe.Field(), fe.Tag()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func normalizeColumn(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
