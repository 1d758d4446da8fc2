package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/lodeclaim/internal/model"
)

var errNotScalar = errors.New("not a scalar value")

// dateLayouts are tried in order for string dates.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"20060102",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
	"2-Jan-2006",
}

var geometryTypes = map[string]bool{
	"Point":           true,
	"MultiPoint":      true,
	"LineString":      true,
	"MultiLineString": true,
	"Polygon":         true,
	"MultiPolygon":    true,
}

// wgs84Names are the CRS names accepted for lon/lat WGS84 geometry.
var wgs84Names = map[string]bool{
	"EPSG:4326":                     true,
	"URN:OGC:DEF:CRS:EPSG::4326":    true,
	"URN:OGC:DEF:CRS:OGC:1.3:CRS84": true,
	"OGC:CRS84":                     true,
	"CRS84":                         true,
}

// isEmpty reports whether a native value counts as absent.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(val)
		return s == "" || strings.EqualFold(s, "null") || s == "-" || strings.EqualFold(s, "n/a")
	default:
		return false
	}
}

func toString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), nil
	case json.Number:
		return val.String(), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return "", errNotScalar
	}
}

func toStatus(v any) (string, error) {
	s, err := toString(v)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.Join(strings.Fields(s), " ")), nil
}

func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case json.Number:
		return val.Float64()
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(val), 64)
	default:
		return 0, errNotScalar
	}
}

// toNumber parses a finite, non-negative quantity such as acreage.
func toNumber(v any) (float64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("number %v out of range", f)
	}
	return f, nil
}

// minEpochMillisDigits is the shortest digit run read as epoch milliseconds.
// Shorter numbers (a bare year, a day count) are not dates.
const minEpochMillisDigits = 10

// toDate parses a date into UTC midnight. Numbers of at least ten digits are
// epoch milliseconds; eight-digit strings are YYYYMMDD.
func toDate(v any) (time.Time, error) {
	switch val := v.(type) {
	case json.Number, float64, int, int64:
		s, err := toString(val)
		if err != nil {
			return time.Time{}, err
		}
		return epochMillis(s)
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return model.Date(t), nil
			}
		}
		if isDigits(s) {
			return epochMillis(s)
		}
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	default:
		return time.Time{}, errNotScalar
	}
}

func epochMillis(s string) (time.Time, error) {
	if !isDigits(s) || len(s) < minEpochMillisDigits {
		return time.Time{}, fmt.Errorf("number %q is not an epoch-millisecond date", s)
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch milliseconds %q: %w", s, err)
	}
	return model.Date(time.UnixMilli(ms)), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// toPoint builds a Point from a longitude and latitude value.
func toPoint(lonValue, latValue any) (*model.Geometry, error) {
	lon, err := toFloat(lonValue)
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	lat, err := toFloat(latValue)
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("longitude %v out of range", lon)
	}
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("latitude %v out of range", lat)
	}

	coords := fmt.Sprintf("[%s,%s]",
		strconv.FormatFloat(lon, 'f', -1, 64),
		strconv.FormatFloat(lat, 'f', -1, 64))
	return &model.Geometry{Type: "Point", Coordinates: json.RawMessage(coords), CRS: model.CRS84}, nil
}

// toGeometry accepts a decoded GeoJSON geometry object or its JSON text.
func toGeometry(v any) (*model.Geometry, error) {
	var obj map[string]any
	switch val := v.(type) {
	case map[string]any:
		obj = val
	case string:
		dec := json.NewDecoder(strings.NewReader(val))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("geometry json: %w", err)
		}
	default:
		return nil, errNotScalar
	}

	typ, _ := obj["type"].(string)
	if !geometryTypes[typ] {
		return nil, fmt.Errorf("unsupported geometry type %q", typ)
	}
	coordsValue, ok := obj["coordinates"].([]any)
	if !ok || len(coordsValue) == 0 {
		return nil, errors.New("geometry without coordinates")
	}
	coords, err := json.Marshal(coordsValue)
	if err != nil {
		return nil, fmt.Errorf("geometry coordinates: %w", err)
	}

	// Coordinates are never reprojected; only lon/lat WGS84 input is kept.
	if c, ok := obj["crs"].(map[string]any); ok {
		props, _ := c["properties"].(map[string]any)
		name, _ := props["name"].(string)
		if !wgs84Names[strings.ToUpper(strings.TrimSpace(name))] {
			return nil, fmt.Errorf("unsupported geometry crs %q (want EPSG:4326 or CRS84)", name)
		}
	}

	return &model.Geometry{Type: typ, Coordinates: coords, CRS: model.CRS84}, nil
}
