package main

import (
	"context"
	"time"
)

// Field is a logical form field on the booking pages. The concrete CSS selector
// for each field lives in Config.Selectors.
type Field string

const (
	FieldCaptchaImage   Field = "captcha_image"
	FieldCaptchaRefresh Field = "captcha_refresh"
	FieldMethodTime     Field = "booking_method_time"
	FieldMethodTrainNo  Field = "booking_method_train_no"
	FieldTrainNo        Field = "train_no"
	FieldStartStation   Field = "start_station"
	FieldDestStation    Field = "dest_station"
	FieldTravelDate     Field = "travel_date"
	FieldTravelTime     Field = "travel_time"
	FieldCarClass       Field = "car_class"
	FieldSeatPreference Field = "seat_preference"
	FieldTicketAdult    Field = "ticket_adult"
	FieldTicketChild    Field = "ticket_child"
	FieldTicketDisabled Field = "ticket_disabled"
	FieldTicketElder    Field = "ticket_elder"
	FieldTicketCollege  Field = "ticket_college"
	FieldTicketTeenager Field = "ticket_teenager"
	FieldSecurityCode   Field = "security_code"
	FieldSubmit         Field = "submit"
	FieldTrainOption    Field = "train_option"
	FieldPassengerID    Field = "passenger_id"
	FieldPhone          Field = "phone"
	FieldEmail          Field = "email"
	FieldMemberRadio    Field = "member_radio"
	FieldMemberNumber   Field = "member_number"
	FieldAgree          Field = "agree"
)

// ticketFields lines up with ticketTypes.
var ticketFields = []Field{
	FieldTicketAdult, FieldTicketChild, FieldTicketDisabled,
	FieldTicketElder, FieldTicketCollege, FieldTicketTeenager,
}

// FormFieldAccessor drives the booking pages by logical field name so the state
// machine never deals with markup or browser details. Implementations are used
// by one worker at a time.
type FormFieldAccessor interface {
	// Open navigates to url and waits for the page load event.
	Open(ctx context.Context, url string) error
	// WaitFor blocks until the field is present or timeout elapses.
	WaitFor(ctx context.Context, f Field, timeout time.Duration) error
	// Capture returns the bytes of the challenge image shown in f.
	Capture(ctx context.Context, f Field) (ChallengeImage, error)
	// Set writes value into an input or select and dispatches input/change events.
	Set(ctx context.Context, f Field, value string) error
	Click(ctx context.Context, f Field) error
	// ChooseIndex clicks the i-th element matched by f (radio groups).
	ChooseIndex(ctx context.Context, f Field, i int) error
	// Choose clicks the element matched by f whose value attribute equals value.
	Choose(ctx context.Context, f Field, value string) error
	// Check ensures a checkbox is ticked.
	Check(ctx context.Context, f Field) error
	// Submit clicks f and waits for the resulting navigation.
	Submit(ctx context.Context, f Field) error
	// Markup returns the rendered HTML of the current page.
	Markup(ctx context.Context) (string, error)
	// Reset drops the current page and cookies and starts a fresh session.
	Reset(ctx context.Context) error
	Close() error
}
