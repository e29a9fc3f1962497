package model

import "strings"

// PropertyFacts holds listing data for the subject property.
type PropertyFacts struct {
	Address         string       `json:"address"`
	Price           float64      `json:"price,omitempty"`
	Beds            int          `json:"beds"`
	Baths           float64      `json:"baths"`
	Area            int          `json:"area"`
	YearBuilt       int          `json:"year_built,omitempty"`
	LotSize         int          `json:"lot_size,omitempty"`
	HomeType        string       `json:"home_type,omitempty"`
	Description     string       `json:"description,omitempty"`
	Images          []string     `json:"images,omitempty"`
	Estimate        float64      `json:"estimate,omitempty"`
	EstimatePerSqft float64      `json:"estimate_per_sqft,omitempty"`
	HOAFee          float64      `json:"hoa_fee,omitempty"`
	PropertyTax     float64      `json:"property_tax,omitempty"`
	DaysOnMarket    int          `json:"days_on_market,omitempty"`
	ListingAgent    string       `json:"listing_agent,omitempty"`
	PriceHistory    []PriceEvent `json:"price_history,omitempty"`
	TaxHistory      []TaxEvent   `json:"tax_history,omitempty"`
	Source          string       `json:"source,omitempty"`
	URL             string       `json:"url,omitempty"`
}

// PriceEvent is one entry of a listing's price history.
type PriceEvent struct {
	Date  string  `json:"date"`
	Event string  `json:"event,omitempty"`
	Price float64 `json:"price"`
}

// TaxEvent is one entry of a listing's tax history.
type TaxEvent struct {
	Year       int     `json:"year"`
	Tax        float64 `json:"tax"`
	Assessment float64 `json:"assessment,omitempty"`
}

// Complete reports whether the facts carry an address, bed and bath
// counts and living area. Zero counts are treated as missing.
func (p *PropertyFacts) Complete() bool {
	if p == nil {
		return false
	}
	return strings.TrimSpace(p.Address) != "" && p.Beds > 0 && p.Baths > 0 && p.Area > 0
}

// Location is a resolved place for the subject property.
type Location struct {
	City             string  `json:"city"`
	State            string  `json:"state"`
	Zip              string  `json:"zip,omitempty"`
	County           string  `json:"county,omitempty"`
	Latitude         float64 `json:"latitude,omitempty"`
	Longitude        float64 `json:"longitude,omitempty"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	Source           string  `json:"source,omitempty"`
}

// Resolved reports whether at least city and state are known.
func (l *Location) Resolved() bool {
	return l != nil && strings.TrimSpace(l.City) != "" && strings.TrimSpace(l.State) != ""
}

// CityState renders "City, ST" or "" when unresolved.
func (l *Location) CityState() string {
	if !l.Resolved() {
		return ""
	}
	return l.City + ", " + l.State
}

// Comparable is a nearby property used to ground valuation.
type Comparable struct {
	Address      string  `json:"address"`
	SalePrice    float64 `json:"sale_price,omitempty"`
	PricePerSqft float64 `json:"price_per_sqft,omitempty"`
	Beds         int     `json:"beds,omitempty"`
	Baths        float64 `json:"baths,omitempty"`
	Area         int     `json:"area,omitempty"`
	SoldDate     string  `json:"sold_date,omitempty"`
	Summary      string  `json:"summary,omitempty"`
	URL          string  `json:"url,omitempty"`
	Source       string  `json:"source,omitempty"`
}

// EffectivePricePerSqft returns the stated price per square foot, or
// derives it from sale price and area. Zero when neither is usable.
func (c Comparable) EffectivePricePerSqft() float64 {
	if c.PricePerSqft > 0 {
		return c.PricePerSqft
	}
	if c.SalePrice > 0 && c.Area > 0 {
		return c.SalePrice / float64(c.Area)
	}
	return 0
}
