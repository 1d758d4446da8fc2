package normalize

import (
	"time"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// setAttribute assigns a converted value to the named claim attribute.
func setAttribute(c *model.Claim, attr string, value any) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return
		}
		switch attr {
		case AttrClaimant:
			c.Claimant = v
		case AttrClaimName:
			c.ClaimName = v
		case AttrClaimType:
			c.ClaimType = v
		case AttrCounty:
			c.County = v
		case AttrTownship:
			c.Township = v
		case AttrRange:
			c.Range = v
		case AttrSection:
			c.Section = v
		case AttrMeridian:
			c.Meridian = v
		case AttrCommodity:
			c.Commodity = v
		case AttrStatusCode:
			c.StatusCode = v
		}
	case float64:
		if attr == AttrAcreage {
			f := v
			c.Acreage = &f
		}
	case time.Time:
		t := v
		switch attr {
		case AttrFiledDate:
			c.FiledDate = &t
		case AttrExpirationDate:
			c.ExpirationDate = &t
		case AttrFeePaidThrough:
			c.FeePaidThrough = &t
		}
	case *model.Geometry:
		if attr == AttrLocation {
			c.Location = v
		}
	}
}
