package otagw

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hotel_channel/internal/domain"
)

type Operation string

const (
	OpProductList        Operation = "product_list"
	OpReservationList    Operation = "reservation_list"
	OpReservationConfirm Operation = "reservation_confirm"
	OpInventory          Operation = "inventory"
	OpOTAList            Operation = "ota_list"
	OpOTAProductList     Operation = "ota_product_list"

	// OpErrorReport is inbound only (webhook), never built as a request.
	OpErrorReport Operation = "error_report"
)

// ReservationListOptions is the payload of reservation_list.
type ReservationListOptions struct {
	IncludePriceBreakdown bool
}

// OTAProductQuery is the payload of ota_product_list.
type OTAProductQuery struct {
	OTAID string
}

// FieldIssue records a field that could not be parsed and was skipped.
type FieldIssue struct {
	Reservation string
	Field       string
	Value       string
}

// Result is the decoded body of a successful response. Only the part
// matching the operation is populated.
type Result struct {
	Inventory         domain.InventoryResult
	Reservations      []domain.ExternalReservation
	ReservationIssues []FieldIssue
	Products          []domain.Product
	OTAs              []domain.OTA
	OTAProducts       []domain.OTAProduct
}

// ---- requests ----

// BuildRequest encodes one outbound document. Payload types per operation:
// ReservationListOptions, []domain.ConfirmItem, domain.InventoryUpdate, OTAProductQuery;
// product_list and ota_list take nil.
func BuildRequest(op Operation, auth domain.Credentials, payload any) ([]byte, error) {
	req := requestXML{Auth: authXML{UserID: auth.UserID, Password: auth.Password, HotelID: auth.PropertyID}}

	switch op {
	case OpProductList, OpOTAList:
		if payload != nil {
			return nil, fmt.Errorf("%s takes no payload, got %T", op, payload)
		}
	case OpReservationList:
		switch p := payload.(type) {
		case nil:
		case ReservationListOptions:
			if p.IncludePriceBreakdown {
				req.IncludePriceBreakdown = "1"
			}
		default:
			return nil, fmt.Errorf("%s: unexpected payload %T", op, payload)
		}
	case OpReservationConfirm:
		items, ok := payload.([]domain.ConfirmItem)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected payload %T", op, payload)
		}
		c, err := encodeConfirm(items)
		if err != nil {
			return nil, err
		}
		req.Confirm = c
	case OpInventory:
		u, ok := payload.(domain.InventoryUpdate)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected payload %T", op, payload)
		}
		inv, err := encodeInventory(u)
		if err != nil {
			return nil, err
		}
		req.Inventory = inv
	case OpOTAProductList:
		q, ok := payload.(OTAProductQuery)
		if !ok || strings.TrimSpace(q.OTAID) == "" {
			return nil, fmt.Errorf("%s: ota id is required", op)
		}
		req.OTAID = q.OTAID
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("encode %s: %w", op, err)
	}
	return buf.Bytes(), nil
}

func encodeConfirm(items []domain.ConfirmItem) (*confirmListXML, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("reservation_confirm: no items")
	}
	out := &confirmListXML{Items: make([]confirmXML, 0, len(items))}
	for _, it := range items {
		if it.ReservationID == "" || it.LocalID == "" {
			return nil, fmt.Errorf("reservation_confirm: reservation and local id are required")
		}
		out.Items = append(out.Items, confirmXML{ID: it.ReservationID, LocalID: it.LocalID, ChangeToken: it.ChangeToken})
	}
	return out, nil
}

func encodeInventory(u domain.InventoryUpdate) (*inventoryXML, error) {
	if u.Empty() {
		return nil, fmt.Errorf("inventory: nothing to send")
	}
	days := append([]domain.InventoryDay(nil), u.Days...)
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })

	out := &inventoryXML{
		StartDate: FormatDate(days[0].Date),
		EndDate:   FormatDate(days[len(days)-1].Date),
	}
	for _, d := range days {
		if len(d.Rooms) == 0 {
			continue
		}
		rooms := append([]domain.RoomDay(nil), d.Rooms...)
		sort.Slice(rooms, func(i, j int) bool { return rooms[i].RemoteRoomID < rooms[j].RemoteRoomID })

		dx := dayXML{Date: FormatDate(d.Date)}
		for _, r := range rooms {
			if r.RemoteRoomID == "" {
				return nil, fmt.Errorf("inventory: room without remote id on %s", dx.Date)
			}
			rx := roomTypeXML{ID: r.RemoteRoomID, Availability: r.Availability, StopSale: flag(r.StopSale)}
			for _, rp := range r.RatePlans {
				px, err := encodeRatePlan(rp)
				if err != nil {
					return nil, fmt.Errorf("inventory: room %s on %s: %w", r.RemoteRoomID, dx.Date, err)
				}
				rx.RatePlans = append(rx.RatePlans, px)
			}
			dx.Rooms = append(dx.Rooms, rx)
		}
		out.Days = append(out.Days, dx)
	}
	return out, nil
}

func encodeRatePlan(rp domain.RatePlanDay) (ratePlanXML, error) {
	if rp.RemoteRateID == "" {
		return ratePlanXML{}, fmt.Errorf("rate plan without remote id")
	}
	if err := rp.Prices.Validate(); err != nil {
		return ratePlanXML{}, err
	}
	px := ratePlanXML{ID: rp.RemoteRateID, MinStay: rp.MinStay, Closed: flag(rp.Closed)}
	for _, occ := range rp.Prices.Occupancies() {
		px.Prices = append(px.Prices, xml.Attr{
			Name:  xml.Name{Local: "price" + strconv.Itoa(occ)},
			Value: rp.Prices[occ].StringFixed(2),
		})
	}
	return px, nil
}

func flag(b *bool) string {
	if b == nil {
		return ""
	}
	if *b {
		return "1"
	}
	return "0"
}

// ---- responses ----

// ParseResponse decodes a response body. A top-level error element yields
// *ProtocolError; inventory per-item errors are returned as rejections.
func ParseResponse(op Operation, body []byte) (Result, error) {
	var doc responseXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrMalformed, op, err)
	}
	if doc.Error != nil {
		return Result{}, &ProtocolError{Operation: op, Code: strings.TrimSpace(doc.Error.Code), Message: strings.TrimSpace(doc.Error.Message)}
	}

	var res Result
	switch op {
	case OpInventory:
		res.Inventory = domain.InventoryResult{RQID: strings.TrimSpace(doc.RQID)}
		for _, e := range doc.Errors {
			res.Inventory.Rejections = append(res.Inventory.Rejections, decodeItemError(e))
		}
		res.Inventory.Success = len(res.Inventory.Rejections) == 0
	case OpReservationList:
		res.Reservations, res.ReservationIssues = decodeReservations(doc.Reservations)
	case OpReservationConfirm:
		// success is the absence of an error element
	case OpProductList:
		res.Products = decodeProducts(doc.Products)
	case OpOTAList:
		for _, o := range doc.OTAs {
			res.OTAs = append(res.OTAs, domain.OTA{ID: o.ID, Name: o.Name, Active: o.Active == "1" || strings.EqualFold(o.Active, "true")})
		}
	case OpOTAProductList:
		if doc.OTAProducts != nil {
			for _, p := range doc.OTAProducts.Products {
				res.OTAProducts = append(res.OTAProducts, domain.OTAProduct{
					OTAID:        doc.OTAProducts.OTAID,
					RemoteRoomID: p.RoomID,
					RemoteRateID: p.RateID,
					OTARoomID:    p.OTARoomID,
					OTARateID:    p.OTARateID,
				})
			}
		}
	default:
		return Result{}, fmt.Errorf("unknown operation %q", op)
	}
	return res, nil
}

// ErrorReport is the payload of the gateway's error-report webhook.
type ErrorReport struct {
	RQID   string
	Errors []domain.ItemRejection
}

func ParseErrorReport(body []byte) (ErrorReport, error) {
	var doc errorReportXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return ErrorReport{}, fmt.Errorf("%w: error_report: %v", ErrMalformed, err)
	}
	out := ErrorReport{RQID: strings.TrimSpace(doc.RQID)}
	for _, e := range doc.Errors {
		out.Errors = append(out.Errors, decodeItemError(e))
	}
	return out, nil
}

func decodeItemError(e itemErrorXML) domain.ItemRejection {
	r := domain.ItemRejection{
		Type:        strings.TrimSpace(e.Type),
		ID:          strings.TrimSpace(e.ID),
		Description: strings.TrimSpace(e.Description),
	}
	if t, err := ParseDate(e.Date); err == nil {
		r.Date = &t
	}
	return r
}

func decodeProducts(in []productXML) []domain.Product {
	out := make([]domain.Product, 0, len(in))
	for _, p := range in {
		pr := domain.Product{RemoteRoomID: p.RoomID, Name: p.Name}
		for _, r := range p.Rates {
			pr.Rates = append(pr.Rates, domain.ProductRate{RemoteRateID: r.RateID, Name: r.Name})
		}
		out = append(out, pr)
	}
	return out
}

// fieldParser collects issues for one reservation while converting fields.
type fieldParser struct {
	res    string
	issues []FieldIssue
}

func (p *fieldParser) skip(field, value string) {
	p.issues = append(p.issues, FieldIssue{Reservation: p.res, Field: field, Value: value})
}

func (p *fieldParser) integer(field, v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.skip(field, v)
		return 0
	}
	return n
}

func (p *fieldParser) money(field, v string) *decimal.Decimal {
	v = strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.skip(field, v)
		return nil
	}
	return &d
}

func (p *fieldParser) date(field, v string) time.Time {
	if strings.TrimSpace(v) == "" {
		return time.Time{}
	}
	t, err := ParseDate(v)
	if err != nil {
		p.skip(field, v)
		return time.Time{}
	}
	return t
}

func decodeGuest(g guestXML) domain.Guest {
	return domain.Guest{
		FirstName: strings.TrimSpace(g.FirstName),
		LastName:  strings.TrimSpace(g.LastName),
		Email:     strings.TrimSpace(g.Email),
		Phone:     strings.TrimSpace(g.Phone),
	}
}

func decodeReservations(in []reservationXML) ([]domain.ExternalReservation, []FieldIssue) {
	var (
		out    = make([]domain.ExternalReservation, 0, len(in))
		issues []FieldIssue
	)
	for _, r := range in {
		p := &fieldParser{res: strings.TrimSpace(r.ID)}
		if p.res == "" {
			issues = append(issues, FieldIssue{Field: "id"})
			continue
		}
		st := domain.ReservationStatus(strings.ToUpper(strings.TrimSpace(r.Status)))
		switch st {
		case domain.ReservationActive, domain.ReservationCancelled, domain.ReservationModified:
		default:
			p.skip("status", r.Status)
			issues = append(issues, p.issues...)
			continue
		}

		er := domain.ExternalReservation{
			Number:      p.res,
			Status:      st,
			OTA:         strings.TrimSpace(r.OTA),
			Guest:       decodeGuest(r.Guest),
			Currency:    strings.ToUpper(strings.TrimSpace(r.Currency)),
			Amount:      p.money("total", r.Total),
			CheckIn:     p.date("checkin", r.CheckIn),
			CheckOut:    p.date("checkout", r.CheckOut),
			ChangeToken: strings.TrimSpace(r.ChangeToken),
			Remarks:     strings.TrimSpace(r.Remarks),
		}
		for i, rm := range r.Rooms {
			prefix := "rooms[" + strconv.Itoa(i) + "]."
			room := domain.ExternalRoom{
				RemoteRoomID: strings.TrimSpace(rm.RoomID),
				RemoteRateID: strings.TrimSpace(rm.RateID),
				Adults:       p.integer(prefix+"adults", rm.Adults),
				Children:     p.integer(prefix+"children", rm.Children),
				Pax:          p.integer(prefix+"pax", rm.Pax),
				Total:        p.money(prefix+"total", rm.Total),
			}
			for _, g := range rm.Guests {
				if guest := decodeGuest(g); guest.Named() {
					room.Guests = append(room.Guests, guest)
				}
			}
			for j, pr := range rm.Prices {
				field := prefix + "prices[" + strconv.Itoa(j) + "]"
				d := p.date(field+".date", pr.Date)
				amt := p.money(field+".amount", pr.Amount)
				if d.IsZero() || amt == nil {
					continue
				}
				room.Prices = append(room.Prices, domain.NightPrice{Date: d, Amount: *amt})
			}
			er.Rooms = append(er.Rooms, room)
		}
		out = append(out, er)
		issues = append(issues, p.issues...)
	}
	return out, issues
}
