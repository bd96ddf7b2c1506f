package elexon

import "encoding/json"

// apiResponse is the common envelope returned by the settlement API.
type apiResponse struct {
	Data json.RawMessage `json:"data"`
}

// acceptanceData carries the bid-side and offer-side acceptance lists for
// one settlement period.
type acceptanceData struct {
	Bid   []Acceptance `json:"bid"`
	Offer []Acceptance `json:"offer"`
}

// Acceptance is a single balancing-mechanism acceptance row as reported by
// the settlement API. Volume keeps its upstream sign: curtailment shows up
// as a negative bid-side volume.
type Acceptance struct {
	BMUnit           string  `json:"bmUnit"`
	SettlementDate   string  `json:"settlementDate"`
	SettlementPeriod int     `json:"settlementPeriod"`
	VolumeMWh        float64 `json:"totalVolumeAccepted"`
	SOFlag           bool    `json:"soFlag"`
	STORFlag         bool    `json:"storFlag"`
	OriginalPrice    float64 `json:"originalPrice"`
	FinalPrice       float64 `json:"finalPrice"`
}
