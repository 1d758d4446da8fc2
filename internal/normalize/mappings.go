package normalize

import "github.com/ppiankov/lodeclaim/internal/model"

// Canonical attribute names used in mapping tables.
const (
	AttrClaimant       = "claimant"
	AttrClaimName      = "claim_name"
	AttrClaimType      = "claim_type"
	AttrCounty         = "county"
	AttrTownship       = "township"
	AttrRange          = "range"
	AttrSection        = "section"
	AttrMeridian       = "meridian"
	AttrAcreage        = "acreage"
	AttrCommodity      = "commodity"
	AttrStatusCode     = "status_code"
	AttrLocation       = "location"
	AttrFiledDate      = "filed_date"
	AttrExpirationDate = "expiration_date"
	AttrFeePaidThrough = "fee_paid_through"
)

// Conversion names.
const (
	ConvertString   = "string"
	ConvertNumber   = "number"
	ConvertStatus   = "status"
	ConvertDate     = "date"
	ConvertPoint    = "point"
	ConvertGeometry = "geometry"
)

var knownAttributes = map[string]bool{
	AttrClaimant:       true,
	AttrClaimName:      true,
	AttrClaimType:      true,
	AttrCounty:         true,
	AttrTownship:       true,
	AttrRange:          true,
	AttrSection:        true,
	AttrMeridian:       true,
	AttrAcreage:        true,
	AttrCommodity:      true,
	AttrStatusCode:     true,
	AttrLocation:       true,
	AttrFiledDate:      true,
	AttrExpirationDate: true,
	AttrFeePaidThrough: true,
}

// caseNumberPattern pulls a case/serial number out of a composite cell,
// e.g. "AZMC123456 DESERT GOLD", "AZ-1001" or "AZ MC 123456". A separated
// two-letter state code is kept as part of the prefix.
const caseNumberPattern = `((?:\b[A-Za-z]{2}[- ])?\b[A-Za-z]{2,5}[- ]?[0-9]{3,})`

func column(i int) *int {
	return &i
}

// DefaultMappings returns the built-in mapping tables keyed by source kind.
func DefaultMappings() map[model.SourceKind]model.SourceMapping {
	return map[model.SourceKind]model.SourceMapping{
		model.SourceKindAPI: {
			Key: model.KeyRule{From: model.KeyFromNativeKey},
			Attributes: map[string]model.FieldRule{
				AttrClaimant:   {Fields: []string{"claimant_name", "claimant"}, Convert: ConvertString},
				AttrClaimName:  {Fields: []string{"claim_name"}, Convert: ConvertString},
				AttrClaimType:  {Fields: []string{"claim_type"}, Convert: ConvertString},
				AttrCounty:     {Fields: []string{"county"}, Convert: ConvertString},
				AttrTownship:   {Fields: []string{"township"}, Convert: ConvertStatus},
				AttrRange:      {Fields: []string{"range"}, Convert: ConvertStatus},
				AttrSection:    {Fields: []string{"section"}, Convert: ConvertString},
				AttrMeridian:   {Fields: []string{"meridian"}, Convert: ConvertStatus},
				AttrAcreage:    {Fields: []string{"acreage", "acres"}, Convert: ConvertNumber},
				AttrCommodity:  {Fields: []string{"commodity"}, Convert: ConvertStatus},
				AttrStatusCode: {Fields: []string{"case_disposition", "status"}, Convert: ConvertStatus},
				AttrLocation: {
					Fields:   []string{"geometry"},
					Convert:  ConvertGeometry,
					Fallback: &model.FieldRule{Fields: []string{"longitude", "latitude", "lon", "lat"}, Convert: ConvertPoint},
				},
				AttrFiledDate:      {Fields: []string{"location_date", "filed_date"}, Convert: ConvertDate},
				AttrExpirationDate: {Fields: []string{"close_date", "expiration_date"}, Convert: ConvertDate},
				AttrFeePaidThrough: {Fields: []string{"fee_paid_through", "maintenance_fee_paid_through"}, Convert: ConvertDate},
			},
		},
		model.SourceKindLegacy: {
			Key: model.KeyRule{
				From:    model.KeyFromField,
				Fields:  []string{"Case Number", "Serial Number"},
				Column:  column(0),
				Pattern: caseNumberPattern,
			},
			Attributes: map[string]model.FieldRule{
				AttrClaimant:       {Fields: []string{"Claimant", "Customer Name", "Claimant Name"}, Convert: ConvertString},
				AttrClaimName:      {Fields: []string{"Claim Name"}, Convert: ConvertString},
				AttrClaimType:      {Fields: []string{"Claim Type", "Case Type"}, Convert: ConvertString},
				AttrCounty:         {Fields: []string{"County"}, Convert: ConvertString},
				AttrTownship:       {Fields: []string{"Township", "Twp"}, Convert: ConvertStatus},
				AttrRange:          {Fields: []string{"Range", "Rng"}, Convert: ConvertStatus},
				AttrSection:        {Fields: []string{"Section", "Sec"}, Convert: ConvertString},
				AttrMeridian:       {Fields: []string{"Meridian", "Mer"}, Convert: ConvertStatus},
				AttrAcreage:        {Fields: []string{"Acreage", "Acres"}, Convert: ConvertNumber},
				AttrCommodity:      {Fields: []string{"Commodity"}, Convert: ConvertStatus},
				AttrStatusCode:     {Fields: []string{"Disposition", "Case Disposition", "Status"}, Convert: ConvertStatus},
				AttrLocation:       {Fields: []string{"Longitude", "Latitude"}, Convert: ConvertPoint},
				AttrFiledDate:      {Fields: []string{"Location Date", "Filed Date"}, Convert: ConvertDate},
				AttrExpirationDate: {Fields: []string{"Close Date", "Expiration Date"}, Convert: ConvertDate},
				AttrFeePaidThrough: {Fields: []string{"Fee Paid Through", "Paid Through"}, Convert: ConvertDate},
			},
		},
		model.SourceKindArchive: {
			Key: model.KeyRule{
				From:    model.KeyFromField,
				Fields:  []string{"case_number", "serial_number", "blm_case_id", "Case Number"},
				Pattern: caseNumberPattern,
			},
			Attributes: map[string]model.FieldRule{
				AttrClaimant:   {Fields: []string{"claimant", "claimant_name", "owner"}, Convert: ConvertString},
				AttrClaimName:  {Fields: []string{"claim_name", "name"}, Convert: ConvertString},
				AttrClaimType:  {Fields: []string{"claim_type"}, Convert: ConvertString},
				AttrCounty:     {Fields: []string{"county"}, Convert: ConvertString},
				AttrTownship:   {Fields: []string{"township"}, Convert: ConvertStatus},
				AttrRange:      {Fields: []string{"range"}, Convert: ConvertStatus},
				AttrSection:    {Fields: []string{"section"}, Convert: ConvertString},
				AttrMeridian:   {Fields: []string{"meridian"}, Convert: ConvertStatus},
				AttrAcreage:    {Fields: []string{"acreage", "acres"}, Convert: ConvertNumber},
				AttrCommodity:  {Fields: []string{"commodity", "commodities"}, Convert: ConvertStatus},
				AttrStatusCode: {Fields: []string{"status", "case_disposition", "disposition"}, Convert: ConvertStatus},
				AttrLocation: {
					Fields:   []string{"geometry"},
					Convert:  ConvertGeometry,
					Fallback: &model.FieldRule{Fields: []string{"longitude", "latitude", "lon", "lat"}, Convert: ConvertPoint},
				},
				AttrFiledDate:      {Fields: []string{"location_date", "filed_date", "date_filed"}, Convert: ConvertDate},
				AttrExpirationDate: {Fields: []string{"close_date", "expiration_date"}, Convert: ConvertDate},
				AttrFeePaidThrough: {Fields: []string{"fee_paid_through"}, Convert: ConvertDate},
			},
		},
	}
}

// MergeMappings overlays config overrides (keyed by kind name) on the defaults.
// An override replaces the key rule when it sets From, and replaces individual
// attribute rules by name.
func MergeMappings(overrides map[string]model.SourceMapping) map[model.SourceKind]model.SourceMapping {
	merged := DefaultMappings()
	for kindName, override := range overrides {
		kind := model.SourceKind(kindName)
		base := merged[kind]
		if override.Key.From != "" {
			base.Key = override.Key
		}
		if base.Attributes == nil {
			base.Attributes = make(map[string]model.FieldRule)
		}
		for attr, rule := range override.Attributes {
			base.Attributes[attr] = rule
		}
		merged[kind] = base
	}
	return merged
}
