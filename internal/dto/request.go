package dto

// IngestRecordRequest is one raw visitor/session/lead/ad-spend record.
// Kind selects the transformer; the remaining fields are kind-specific.
type IngestRecordRequest struct {
	Kind         string `json:"kind" binding:"required" example:"visit"`
	RawSessionID string `json:"raw_session_id" binding:"required" example:"992126199"`

	// Fingerprint attributes
	IP            string `json:"ip" example:"72.241.11.5"`
	BrowserFamily string `json:"browser_family" example:"Chrome"`
	OS            string `json:"os" example:"Windows"`
	DeviceClass   string `json:"device_class" example:"desktop"`

	// Visit/action fields
	EventType       string                 `json:"event_type" example:"page_view"`
	Timestamp       int64                  `json:"timestamp" example:"1723475612"`
	URL             string                 `json:"url" example:"/pricing"`
	ReferrerType    string                 `json:"referrer_type" example:"organic"`
	ReferrerDomain  string                 `json:"referrer_domain" example:"google.com"`
	Geo             string                 `json:"geo" example:"US-OH"`
	Campaign        string                 `json:"campaign" example:"cmp_987"`
	Source          string                 `json:"source" example:"google_ads"`
	PageView        bool                   `json:"page_view"`
	Conversion      bool                   `json:"conversion"`
	ConversionValue float64                `json:"conversion_value"`
	Payload         map[string]interface{} `json:"payload"`

	// Lead fields
	LeadID string `json:"lead_id" example:"lead_42"`

	// Ad-spend fields
	Platform string  `json:"platform" example:"google_ads"`
	Cost     float64 `json:"cost" example:"12.50"`
}

// IngestBatchRequest is a bounded batch of historical raw records.
type IngestBatchRequest struct {
	Records []IngestRecordRequest `json:"records" binding:"required,min=1,max=1000,dive"`
}

// HeartbeatRequest registers one worker liveness signal.
type HeartbeatRequest struct {
	ComponentType string             `json:"component_type" binding:"required" example:"etl_worker"`
	ComponentID   string             `json:"component_id" binding:"required" example:"etl_worker-3f2a"`
	Status        string             `json:"status" binding:"required" example:"healthy"`
	Metrics       map[string]float64 `json:"metrics"`
}

// FunnelRequest bounds a conversion-funnel query.
type FunnelRequest struct {
	From int64 `form:"from" binding:"required" example:"1723475612"`
	To   int64 `form:"to" binding:"required" example:"1723562012"`
}

// SimilarUsersRequest parameterizes a similarity search.
type SimilarUsersRequest struct {
	Threshold float64 `form:"threshold" example:"0.7"`
	Limit     int     `form:"limit" example:"10"`
}
