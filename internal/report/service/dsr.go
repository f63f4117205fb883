package service

import "encoding/xml"

// DSR artifact shapes. The profile is deliberately flat: one SalesTransaction
// per track per usage day.

type dsrMessage struct {
	XMLName      xml.Name        `xml:"SalesReportMessage"`
	Header       dsrHeader       `xml:"MessageHeader"`
	ReportHeader dsrReportHeader `xml:"SalesReportHeader"`
	Body         dsrBody         `xml:"SalesReportBody"`
	Summary      dsrSummary      `xml:"SalesReportSummary"`
}

type dsrHeader struct {
	MessageID              string `xml:"MessageId"`
	MessageCreatedDateTime string `xml:"MessageCreatedDateTime"`
	Sender                 string `xml:"MessageSender>PartyName>FullName"`
	Recipient              string `xml:"MessageRecipient>PartyName>FullName"`
}

type dsrReportHeader struct {
	Period     string `xml:"Period"`
	ReportType string `xml:"ReportType"`
	Status     string `xml:"Status"`
	Currency   string `xml:"Currency"`
}

type dsrBody struct {
	Transactions []dsrTransaction `xml:"SalesTransaction"`
}

type dsrTransaction struct {
	TransactionID     string  `xml:"TransactionId"`
	ReleaseReference  string  `xml:"ReleaseReference"`
	ResourceReference string  `xml:"ResourceReference"`
	ISRC              string  `xml:"ISRC,omitempty"`
	Title             string  `xml:"Title"`
	Artist            string  `xml:"Artist"`
	UsageDate         string  `xml:"UsageDate"`
	Territory         string  `xml:"Territory"`
	UseType           string  `xml:"UseType"`
	Quantity          int64   `xml:"Quantity"`
	UnitPrice         float64 `xml:"UnitPrice"`
	LineAmount        float64 `xml:"LineAmount"`
	PayableAmount     float64 `xml:"PayableAmount"`
}

type dsrSummary struct {
	TotalQuantity int64   `xml:"TotalQuantity"`
	GrossAmount   float64 `xml:"GrossAmount"`
	NetAmount     float64 `xml:"NetAmount"`
}
