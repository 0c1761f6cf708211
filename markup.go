package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Page markers on irs.thsrc.com.tw.
const (
	feedbackErrorSelector = ".feedbackPanelERROR"
	trainListMarker       = "TrainQueryDataViewPanel"
	trainOptionSelector   = "input[name='TrainQueryDataViewPanel:TrainGroup']"
	passengerFormSelector = "input[name='dummyId']"

	dateOutOfRangeText = "選擇的日期超過目前開放預訂之日期"
)

var soldOutTexts = []string{"查無可售車次", "已售完"}

// arrivalGrace is subtracted from the inbound ceiling when picking a train.
const arrivalGrace = 20 * time.Minute

// PageKind is what a successful search submission led to.
type PageKind int

const (
	PageUnknown PageKind = iota
	PageTrainList
	PagePassengerForm
)

func (p PageKind) String() string {
	switch p {
	case PageTrainList:
		return "train_list"
	case PagePassengerForm:
		return "passenger_form"
	default:
		return "unknown"
	}
}

func parseDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, newError(KindParse, "parse page", err)
	}
	return doc, nil
}

// cleanText collapses the whitespace inside a selection's text.
func cleanText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// ParseFeedback returns the error banners shown on the page.
func ParseFeedback(html string) ([]string, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	return feedbackMessages(doc), nil
}

func feedbackMessages(doc *goquery.Document) []string {
	var messages []string
	doc.Find(feedbackErrorSelector).Each(func(_ int, s *goquery.Selection) {
		if msg := cleanText(s); msg != "" {
			messages = append(messages, msg)
		}
	})
	return messages
}

// ClassifySubmission inspects the page after the search form was submitted.
// The checks run in a fixed order: a date-range error is fatal, a sold-out
// notice beats any other banner, other banners mean the submission was
// rejected, and only then are the train list and passenger form recognized.
func ClassifySubmission(html string) (PageKind, error) {
	const op = "check search result"

	doc, err := parseDocument(html)
	if err != nil {
		return PageUnknown, err
	}
	messages := feedbackMessages(doc)

	for _, msg := range messages {
		if strings.Contains(msg, dateOutOfRangeText) {
			return PageUnknown, newError(KindDateOutOfRange, op,
				fmt.Errorf("date exceeds the bookable range"), messages...)
		}
	}

	// Train list rows may carry their own sold-out badges, so the page text only
	// counts when no list is shown.
	listed := strings.Contains(html, trainListMarker)
	if containsSoldOut(strings.Join(messages, "\n")) || (!listed && containsSoldOut(html)) {
		return PageUnknown, newError(KindSoldOut, op,
			fmt.Errorf("no available trains"), messages...)
	}

	if len(messages) > 0 {
		return PageUnknown, newError(KindSubmissionRejected, op, nil, messages...)
	}

	if listed {
		return PageTrainList, nil
	}
	if doc.Find(passengerFormSelector).Length() > 0 {
		return PagePassengerForm, nil
	}

	return PageUnknown, newError(KindSubmissionRejected, op, fmt.Errorf("unknown error"))
}

func containsSoldOut(s string) bool {
	for _, text := range soldOutTexts {
		if strings.Contains(s, text) {
			return true
		}
	}
	return false
}

// TrainOption is one row of the train list.
type TrainOption struct {
	Departure TimeOfDay
	Arrival   TimeOfDay
	Duration  time.Duration
	Discount  string
	TrainNo   string
	// Value is the radio button's value attribute, used to choose the row.
	Value string
}

func (t TrainOption) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Departure string `json:"departure"`
		Arrival   string `json:"arrival"`
		Duration  string `json:"duration"`
		Discount  string `json:"discount,omitempty"`
		TrainNo   string `json:"train_no"`
	}{
		Departure: t.Departure.String(),
		Arrival:   t.Arrival.String(),
		Duration:  formatDuration(t.Duration),
		Discount:  t.Discount,
		TrainNo:   t.TrainNo,
	})
}

func (t TrainOption) HasDiscount() bool {
	return t.Discount != ""
}

func (t TrainOption) String() string {
	s := fmt.Sprintf("%s -> %s (%s) | %s", t.Departure, t.Arrival, formatDuration(t.Duration), t.TrainNo)
	if t.Discount != "" {
		s += "\t" + t.Discount
	}
	return s
}

func formatDuration(d time.Duration) string {
	m := int(d / time.Minute)
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ParseTrainOptions reads every selectable train from the train list page.
func ParseTrainOptions(html string) ([]TrainOption, error) {
	const op = "parse train list"

	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}

	var (
		options []TrainOption
		rowErr  error
	)
	doc.Find(trainOptionSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		opt, err := parseTrainRow(s)
		if err != nil {
			rowErr = newError(KindParse, op, fmt.Errorf("row %d: %w", i+1, err))
			return false
		}
		options = append(options, opt)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}

	return options, nil
}

func parseTrainRow(s *goquery.Selection) (TrainOption, error) {
	var opt TrainOption

	dep, err := ParseTimeOfDay(s.AttrOr("querydeparture", ""))
	if err != nil {
		return opt, fmt.Errorf("departure: %w", err)
	}
	arr, err := ParseTimeOfDay(s.AttrOr("queryarrival", ""))
	if err != nil {
		return opt, fmt.Errorf("arrival: %w", err)
	}
	value, ok := s.Attr("value")
	if !ok || value == "" {
		return opt, fmt.Errorf("missing option value")
	}

	// The row details live in the first div following the radio button.
	row := s.Parent()
	details := row.Find(".duration").First()
	discount := row.Find(".discount").First()
	if details.Length() == 0 {
		next := row.NextAllFiltered("div").First()
		details = next.Find(".duration").First()
		discount = next.Find(".discount").First()
	}

	text := strings.NewReplacer("schedule", "", "directions_railway", "", "\n", "").Replace(details.Text())
	parts := strings.Split(text, "|")

	duration, err := parseDuration(strings.TrimSpace(parts[0]))
	if err != nil {
		// Fall back to the scheduled times when the duration cell is missing.
		duration = time.Duration(arr-dep) * time.Minute
	}

	opt = TrainOption{
		Departure: dep,
		Arrival:   arr,
		Duration:  duration,
		Discount:  cleanText(discount),
		Value:     value,
	}
	if len(parts) > 1 {
		opt.TrainNo = strings.TrimSpace(parts[1])
	}
	return opt, nil
}

// SelectTrain picks a train automatically:
//  1. if any option carries a discount, only discounted options are considered;
//  2. with an inbound ceiling, only options arriving by ceiling-20m are kept,
//     unless none do;
//  3. the shortest duration wins, ties going to the earlier row.
func SelectTrain(options []TrainOption, ceiling *TimeOfDay) (TrainOption, bool) {
	if len(options) == 0 {
		return TrainOption{}, false
	}

	candidates := options
	if discounted := filterTrains(candidates, TrainOption.HasDiscount); len(discounted) > 0 {
		candidates = discounted
	}

	if ceiling != nil {
		limit := ceiling.Add(-arrivalGrace)
		inTime := filterTrains(candidates, func(t TrainOption) bool { return t.Arrival <= limit })
		if len(inTime) > 0 {
			candidates = inTime
		}
	}

	best := candidates[0]
	for _, t := range candidates[1:] {
		if t.Duration < best.Duration {
			best = t
		}
	}
	return best, true
}

func filterTrains(options []TrainOption, keep func(TrainOption) bool) []TrainOption {
	var out []TrainOption
	for _, t := range options {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// Receipt is the booking confirmation shown on the last page.
type Receipt struct {
	ReservationNo    string   `json:"reservation_no"`
	PaymentStatus    string   `json:"payment_status"`
	CarType          string   `json:"car_type"`
	TicketType       string   `json:"ticket_type"`
	TotalPrice       string   `json:"total_price"`
	Date             string   `json:"date"`
	TrainNo          string   `json:"train_no"`
	DepartureTime    string   `json:"departure_time"`
	DepartureStation string   `json:"departure_station"`
	ArrivalTime      string   `json:"arrival_time"`
	ArrivalStation   string   `json:"arrival_station"`
	Duration         string   `json:"duration"`
	Seats            []string `json:"seats"`
}

// ExtractReceipt parses the confirmation page. Every field is required; a
// missing one is a ParseError naming what could not be found.
func ExtractReceipt(html string) (*Receipt, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}

	card := doc.Find("div.ticket-card").First()
	r := &Receipt{
		ReservationNo:    cleanText(doc.Find("p.pnr-code").First()),
		PaymentStatus:    cleanText(doc.Find("p.payment-status").First()),
		CarType:          cleanText(doc.Find("div.car-type p.info-data").First()),
		TicketType:       cleanText(doc.Find("div.ticket-type div").First()),
		TotalPrice:       cleanText(doc.Find("span#setTrainTotalPriceValue").First()),
		Date:             cleanText(card.Find("span.date").First()),
		TrainNo:          cleanText(card.Find("span#setTrainCode0").First()),
		DepartureTime:    cleanText(card.Find("p.departure-time").First()),
		DepartureStation: cleanText(card.Find("p.departure-stn").First()),
		ArrivalTime:      cleanText(card.Find("p.arrival-time").First()),
		ArrivalStation:   cleanText(card.Find("p.arrival-stn").First()),
		Duration:         cleanText(card.Find("span#InfoEstimatedTime0").First()),
	}
	doc.Find("div.detail").First().Find("div.seat-label").Each(func(_ int, s *goquery.Selection) {
		if seat := cleanText(s); seat != "" {
			r.Seats = append(r.Seats, seat)
		}
	})

	fields := []struct {
		name  string
		value string
	}{
		{"reservation number", r.ReservationNo},
		{"payment status", r.PaymentStatus},
		{"car type", r.CarType},
		{"ticket type", r.TicketType},
		{"total price", r.TotalPrice},
		{"travel date", r.Date},
		{"train number", r.TrainNo},
		{"departure time", r.DepartureTime},
		{"departure station", r.DepartureStation},
		{"arrival time", r.ArrivalTime},
		{"arrival station", r.ArrivalStation},
		{"duration", r.Duration},
	}
	var missing []string
	for _, f := range fields {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(r.Seats) == 0 {
		missing = append(missing, "seats")
	}
	if len(missing) > 0 {
		return r, newError(KindParse, "extract receipt",
			fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}

	return r, nil
}
