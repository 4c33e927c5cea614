package otagw

import "encoding/xml"

// Wire schema. Every numeric-looking field is a string here and converted
// leniently later, so a single bad field never aborts a whole document.

type authXML struct {
	UserID   string `xml:"user_id"`
	Password string `xml:"password"`
	HotelID  string `xml:"hotel_id"`
}

type requestXML struct {
	XMLName               xml.Name        `xml:"request"`
	Auth                  authXML         `xml:"authentication"`
	IncludePriceBreakdown string          `xml:"include_price_breakdown,omitempty"`
	OTAID                 string          `xml:"ota_id,omitempty"`
	Confirm               *confirmListXML `xml:"reservations,omitempty"`
	Inventory             *inventoryXML   `xml:"inventory,omitempty"`
}

type confirmListXML struct {
	Items []confirmXML `xml:"reservation"`
}

type confirmXML struct {
	ID          string `xml:"id,attr"`
	LocalID     string `xml:"local_id,attr"`
	ChangeToken string `xml:"change_token,attr,omitempty"`
}

type inventoryXML struct {
	StartDate string   `xml:"start_date,attr"`
	EndDate   string   `xml:"end_date,attr"`
	Days      []dayXML `xml:"day"`
}

type dayXML struct {
	Date  string        `xml:"date,attr"`
	Rooms []roomTypeXML `xml:"roomtype"`
}

type roomTypeXML struct {
	ID           string        `xml:"id,attr"`
	Availability *int          `xml:"availability,attr,omitempty"`
	StopSale     string        `xml:"stopsale,attr,omitempty"`
	RatePlans    []ratePlanXML `xml:"rateplan"`
}

type ratePlanXML struct {
	ID      string     `xml:"id,attr"`
	Prices  []xml.Attr `xml:",any,attr"`
	MinStay *int       `xml:"minstay,attr,omitempty"`
	Closed  string     `xml:"closed,attr,omitempty"`
}

type responseXML struct {
	XMLName      xml.Name         `xml:"response"`
	Error        *errorXML        `xml:"error"`
	Success      *struct{}        `xml:"success"`
	RQID         string           `xml:"rqid"`
	Errors       []itemErrorXML   `xml:"errors>error"`
	Reservations []reservationXML `xml:"reservations>reservation"`
	Products     []productXML     `xml:"products>product"`
	OTAs         []otaXML         `xml:"otas>ota"`
	OTAProducts  *otaProductsXML  `xml:"ota_products"`
}

type errorXML struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

type itemErrorXML struct {
	Type        string `xml:"type,attr"`
	ID          string `xml:"id,attr"`
	Date        string `xml:"date,attr"`
	Description string `xml:",chardata"`
}

type guestXML struct {
	FirstName string `xml:"first_name,attr"`
	LastName  string `xml:"last_name,attr"`
	Email     string `xml:"email,attr"`
	Phone     string `xml:"phone,attr"`
}

type priceXML struct {
	Date   string `xml:"date,attr"`
	Amount string `xml:"amount,attr"`
}

type roomXML struct {
	RoomID   string     `xml:"room_id,attr"`
	RateID   string     `xml:"rate_id,attr"`
	Adults   string     `xml:"adults,attr"`
	Children string     `xml:"children,attr"`
	Pax      string     `xml:"pax,attr"`
	Total    string     `xml:"total,attr"`
	Guests   []guestXML `xml:"guests>guest"`
	Prices   []priceXML `xml:"prices>price"`
}

type reservationXML struct {
	ID          string    `xml:"id,attr"`
	Status      string    `xml:"status,attr"`
	ChangeToken string    `xml:"change_token,attr"`
	OTA         string    `xml:"ota,attr"`
	Currency    string    `xml:"currency,attr"`
	Total       string    `xml:"total,attr"`
	CheckIn     string    `xml:"checkin,attr"`
	CheckOut    string    `xml:"checkout,attr"`
	Remarks     string    `xml:"remarks"`
	Guest       guestXML  `xml:"guest"`
	Rooms       []roomXML `xml:"rooms>room"`
}

type productXML struct {
	RoomID string    `xml:"room_id,attr"`
	Name   string    `xml:"room_name,attr"`
	Rates  []rateXML `xml:"rate"`
}

type rateXML struct {
	RateID string `xml:"rate_id,attr"`
	Name   string `xml:"rate_name,attr"`
}

type otaXML struct {
	ID     string `xml:"id,attr"`
	Name   string `xml:"name,attr"`
	Active string `xml:"active,attr"`
}

type otaProductsXML struct {
	OTAID    string          `xml:"ota_id,attr"`
	Products []otaProductXML `xml:"product"`
}

type otaProductXML struct {
	RoomID    string `xml:"room_id,attr"`
	RateID    string `xml:"rate_id,attr"`
	OTARoomID string `xml:"ota_room_id,attr"`
	OTARateID string `xml:"ota_rate_id,attr"`
}

type errorReportXML struct {
	XMLName xml.Name       `xml:"error_report"`
	RQID    string         `xml:"rqid,attr"`
	Errors  []itemErrorXML `xml:"error"`
}
