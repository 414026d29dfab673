package model

// VehicleData is the raw description of a vehicle submitted for scoring.
type VehicleData struct {
	Make       string   `json:"make"`
	Model      string   `json:"model"`
	Year       int      `json:"year"`
	Mileage    *float64 `json:"mileage,omitempty"`
	EngineSize *float64 `json:"engine_size,omitempty"`
}

// VehicleScore echoes the submitted vehicle together with its score.
type VehicleScore struct {
	VehicleData
	Score float64 `json:"score"`
}

// BatchRequest wraps several vehicles scored in one call.
type BatchRequest struct {
	Vehicles []VehicleData `json:"vehicles"`
}

// BatchResponse holds one VehicleScore per submitted vehicle, in order.
type BatchResponse struct {
	Results []VehicleScore `json:"results"`
}
