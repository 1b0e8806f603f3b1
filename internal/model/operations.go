package model

// DispatchDocument は出荷に添付された書類（請求書、梱包明細など）を表す。
type DispatchDocument struct {
	ID             ID     `json:"id"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number,omitempty"`
	File           string `json:"file"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// PackingDetails は梱包完了時に送信する梱包情報。
type PackingDetails struct {
	TotalPackages  int    `json:"total_packages,omitempty"`
	GrossWeight    string `json:"gross_weight,omitempty"`
	NetWeight      string `json:"net_weight,omitempty"`
	Dimensions     string `json:"dimensions,omitempty"`
	PackingDetails string `json:"packing_details,omitempty"`
}

// TransportDetails は出荷時に送信する輸送情報。
type TransportDetails struct {
	TransporterName string `json:"transporter_name,omitempty"`
	VehicleNumber   string `json:"vehicle_number,omitempty"`
	DriverName      string `json:"driver_name,omitempty"`
	DriverPhone     string `json:"driver_phone,omitempty"`
	TrackingNumber  string `json:"tracking_number,omitempty"`
	LRNumber        string `json:"lr_number,omitempty"`
}

// QAApproval は検査のQA承認リクエスト。
type QAApproval struct {
	Approved bool   `json:"approved"`
	Remarks  string `json:"remarks,omitempty"`
}

// StockAdjustment は資材在庫の調整リクエスト。
// TransactionTypeは receipt, adjustment, scrap のいずれか。
type StockAdjustment struct {
	Quantity        string `json:"quantity"`
	TransactionType string `json:"transaction_type"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// StatusUpdate は受注ステータス更新リクエスト。
type StatusUpdate struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}
