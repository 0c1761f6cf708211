package main

import (
	"context"
	"fmt"
	"log/slog"
)

// BookingState is the phase of one booking attempt.
type BookingState int

const (
	StateInit BookingState = iota
	StatePageLoaded
	StateChallengeOffered
	StateFormSubmitted
	StateTrainListReady
	StateTrainConfirmed
	StateTicketConfirmed
	StateDone
	StateFailed
	StateSoldOut
)

var stateNames = []string{
	"init",
	"page_loaded",
	"challenge_offered",
	"form_submitted",
	"train_list_ready",
	"train_confirmed",
	"ticket_confirmed",
	"done",
	"failed",
	"sold_out",
}

func (s BookingState) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Session is everything one attempt knows about its progress. It belongs to the
// worker running the attempt and is never shared.
type Session struct {
	Form  FormFieldAccessor
	State BookingState

	PageLoads        int
	ChallengeRetries int
	SoldOutRestarts  int
	SessionRestarts  int

	Challenge  ChallengeImage
	alternator *Alternator

	Trains   []TrainOption
	Selected *TrainOption
	Receipt  *Receipt

	// LastErr is the most recent recoverable failure, Err the one that ended the attempt.
	LastErr error
	Err     error
}

func (s *Session) fail(err error) BookingState {
	s.Err = err
	return StateFailed
}

// Engine drives a Session through the booking pages.
type Engine struct {
	cfg      *Config
	form     *SearchForm
	resolver *Resolver
	ctl      *Controller
	events   EventSink
	logger   *slog.Logger
	metrics  *Metrics

	startOrder Ordering
}

func NewEngine(cfg *Config, form *SearchForm, resolver *Resolver, ctl *Controller, events EventSink, logger *slog.Logger, metrics *Metrics) *Engine {
	if events == nil {
		events = nopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	order := PrimaryFirst
	if cfg.OCR.SecondaryFirst {
		order = SecondaryFirst
	}
	return &Engine{
		cfg:        cfg,
		form:       form,
		resolver:   resolver,
		ctl:        ctl,
		events:     events,
		logger:     logger,
		metrics:    metrics,
		startOrder: order,
	}
}

// Attempt runs one pass from Init until Done or Failed. On Failed the returned
// error says why; the session is returned either way.
func (e *Engine) Attempt(ctx context.Context, fa FormFieldAccessor) (*Session, error) {
	s := &Session{Form: fa, State: StateInit}
	e.enter(s, StateInit)

	for {
		switch s.State {
		case StateDone:
			return s, nil
		case StateFailed:
			return s, s.Err
		}

		next := e.step(ctx, s)
		e.enter(s, next)
	}
}

func (e *Engine) enter(s *Session, next BookingState) {
	s.State = next
	e.metrics.observeState(next)
	e.events.Emit(Event{Type: EventState, State: next.String()})
	e.logger.Debug("booking state", "state", next.String(),
		"challenge_retries", s.ChallengeRetries, "page_loads", s.PageLoads)
}

func (e *Engine) step(ctx context.Context, s *Session) BookingState {
	switch s.State {
	case StateInit:
		return e.loadPage(ctx, s)
	case StatePageLoaded:
		return e.captureChallenge(ctx, s)
	case StateChallengeOffered:
		return e.submitSearch(ctx, s)
	case StateFormSubmitted:
		return e.inspectSearch(ctx, s)
	case StateTrainListReady:
		return e.confirmTrain(ctx, s)
	case StateTrainConfirmed:
		return e.confirmTicket(ctx, s)
	case StateTicketConfirmed:
		return e.extractReceipt(ctx, s)
	case StateSoldOut:
		return e.soldOut(ctx, s)
	default:
		return s.fail(fmt.Errorf("no transition from state %s", s.State))
	}
}

// Init -> PageLoaded
func (e *Engine) loadPage(ctx context.Context, s *Session) BookingState {
	if err := e.ctl.checkpoint(ctx); err != nil {
		return s.fail(err)
	}

	e.logger.Info("loading booking page")
	s.ChallengeRetries = 0
	s.alternator = NewAlternator(e.startOrder, e.cfg.OCR.Alternate)

	err := e.ctl.LoadPage(ctx, func(ctx context.Context) error {
		s.PageLoads++
		if err := s.Form.Open(ctx, e.cfg.ReservationURL); err != nil {
			return fmt.Errorf("open booking page: %w", err)
		}
		if err := s.Form.WaitFor(ctx, FieldCaptchaImage, e.cfg.challengeTimeout()); err != nil {
			return fmt.Errorf("wait for security code image: %w", err)
		}
		return nil
	})
	if err != nil {
		return s.fail(err)
	}

	e.logger.Info("page loaded successfully")
	return StatePageLoaded
}

// PageLoaded -> ChallengeOffered
func (e *Engine) captureChallenge(ctx context.Context, s *Session) BookingState {
	img, err := s.Form.Capture(ctx, FieldCaptchaImage)
	if err != nil {
		return e.retryChallenge(ctx, s, newError(KindTransport, "capture challenge", err))
	}
	s.Challenge = img
	return StateChallengeOffered
}

// ChallengeOffered -> FormSubmitted
func (e *Engine) submitSearch(ctx context.Context, s *Session) BookingState {
	order := s.alternator.Next()
	code, attempts, err := e.resolver.Resolve(ctx, s.Challenge, order)
	if err != nil {
		if ctx.Err() != nil {
			return s.fail(newError(KindCancelled, "resolve challenge", ctx.Err()))
		}
		e.logger.Warn("failed to get security code", "order", order.String(), "providers", len(attempts))
		return e.retryChallenge(ctx, s, err)
	}

	if err := e.fillSearch(ctx, s.Form, code); err != nil {
		if ctx.Err() != nil {
			return s.fail(newError(KindCancelled, "fill booking form", ctx.Err()))
		}
		e.logger.Error("failed to fill booking form", "err", err)
		return e.retryChallenge(ctx, s, newError(KindTransport, "fill booking form", err))
	}

	return StateFormSubmitted
}

func (e *Engine) fillSearch(ctx context.Context, fa FormFieldAccessor, code string) error {
	f := e.form

	if f.TrainNo != "" {
		if err := fa.Click(ctx, FieldMethodTrainNo); err != nil {
			return fmt.Errorf("select train number search: %w", err)
		}
		if err := fa.Set(ctx, FieldTrainNo, f.TrainNo); err != nil {
			return fmt.Errorf("set train number: %w", err)
		}
	} else if err := fa.Click(ctx, FieldMethodTime); err != nil {
		return fmt.Errorf("select time search: %w", err)
	}

	if err := fa.Set(ctx, FieldStartStation, f.StartStation); err != nil {
		return fmt.Errorf("set start station: %w", err)
	}
	if err := fa.Set(ctx, FieldDestStation, f.DestStation); err != nil {
		return fmt.Errorf("set destination station: %w", err)
	}
	if err := fa.Set(ctx, FieldTravelDate, FormatSiteDate(f.Date)); err != nil {
		return fmt.Errorf("set outbound date: %w", err)
	}
	if f.TrainNo == "" {
		if err := fa.Set(ctx, FieldTravelTime, f.TimeSlot); err != nil {
			return fmt.Errorf("set outbound time: %w", err)
		}
	}

	if err := fa.ChooseIndex(ctx, FieldCarClass, f.CarClass); err != nil {
		return fmt.Errorf("select car class: %w", err)
	}
	if err := fa.ChooseIndex(ctx, FieldSeatPreference, f.SeatPref); err != nil {
		return fmt.Errorf("select seat preference: %w", err)
	}

	for i, field := range ticketFields {
		if err := fa.Set(ctx, field, f.Tickets[i]); err != nil {
			// Some ticket rows are not offered on every route; an empty row can be skipped.
			if i > 0 && f.Tickets[i][0] == '0' {
				e.logger.Debug("ticket row not available", "type", ticketTypes[i], "err", err)
				continue
			}
			return fmt.Errorf("set %s tickets: %w", ticketTypes[i], err)
		}
	}

	if err := fa.Set(ctx, FieldSecurityCode, code); err != nil {
		return fmt.Errorf("enter security code: %w", err)
	}
	if err := fa.Submit(ctx, FieldSubmit); err != nil {
		return fmt.Errorf("submit booking form: %w", err)
	}
	return nil
}

// FormSubmitted -> TrainListReady | TrainConfirmed | SoldOut | ChallengeOffered | Failed
func (e *Engine) inspectSearch(ctx context.Context, s *Session) BookingState {
	html, err := s.Form.Markup(ctx)
	if err != nil {
		return e.retryChallenge(ctx, s, newError(KindTransport, "read search result", err))
	}

	kind, err := ClassifySubmission(html)
	if err != nil {
		switch KindOf(err) {
		case KindDateOutOfRange:
			e.logger.Error("date exceeds bookable range, change the travel date", "err", err)
			return s.fail(err)
		case KindSoldOut:
			s.LastErr = err
			return StateSoldOut
		default:
			return e.retryChallenge(ctx, s, err)
		}
	}

	e.metrics.observeChallengeRounds(s.ChallengeRetries + 1)

	switch kind {
	case PagePassengerForm:
		e.logger.Info("security code correct, train reserved by number")
		if e.cfg.ListOnly {
			return StateDone
		}
		return StateTrainConfirmed
	default:
		e.logger.Info("security code correct, found train list")
		return StateTrainListReady
	}
}

// retryChallenge counts one failed round within the current page load. Under the
// bound the challenge is refreshed and the state machine stays in
// ChallengeOffered; at the bound the page load is abandoned for a fresh session.
func (e *Engine) retryChallenge(ctx context.Context, s *Session, cause error) BookingState {
	bound := e.ctl.Policy().ChallengeRetries

	for {
		s.ChallengeRetries++
		s.LastErr = cause

		if s.ChallengeRetries >= bound {
			e.logger.Warn("security code retry limit reached, getting new session", "limit", bound, "err", cause)
			e.metrics.observeChallengeRounds(s.ChallengeRetries)
			return e.restartSession(ctx, s, cause)
		}

		if err := e.ctl.checkpoint(ctx); err != nil {
			return s.fail(err)
		}

		e.logger.Info("security code rejected, updating", "retry", s.ChallengeRetries, "of", bound, "err", cause)
		img, err := e.refreshChallenge(ctx, s)
		if err == nil {
			s.Challenge = img
			return StateChallengeOffered
		}
		if KindOf(err) == KindCancelled {
			return s.fail(err)
		}
		cause = err
	}
}

func (e *Engine) refreshChallenge(ctx context.Context, s *Session) (ChallengeImage, error) {
	if err := s.Form.Click(ctx, FieldCaptchaRefresh); err != nil {
		return ChallengeImage{}, newError(KindTransport, "refresh challenge", err)
	}
	if err := e.ctl.RefreshPause(ctx); err != nil {
		return ChallengeImage{}, err
	}
	img, err := s.Form.Capture(ctx, FieldCaptchaImage)
	if err != nil {
		return ChallengeImage{}, newError(KindTransport, "capture challenge", err)
	}
	return img, nil
}

func (e *Engine) restartSession(ctx context.Context, s *Session, cause error) BookingState {
	limit := e.ctl.Policy().SessionRestarts
	if s.SessionRestarts >= limit {
		return s.fail(newError(KindChallengeUnresolved, "solve challenge",
			fmt.Errorf("retry limit reached in %d sessions: %w", s.SessionRestarts+1, cause)))
	}

	s.SessionRestarts++
	if err := s.Form.Reset(ctx); err != nil {
		return s.fail(newError(KindTransport, "reset session", err))
	}
	return StateInit
}

// SoldOut -> Init | Failed
func (e *Engine) soldOut(ctx context.Context, s *Session) BookingState {
	limit := e.ctl.Policy().SoldOutRestarts
	if s.SoldOutRestarts >= limit {
		return s.fail(newError(KindSoldOut, "search trains",
			fmt.Errorf("still sold out after %d restarts: %w", s.SoldOutRestarts, s.LastErr)))
	}
	s.SoldOutRestarts++

	if err := e.ctl.Cooldown(ctx); err != nil {
		return s.fail(err)
	}
	return StateInit
}

// TrainListReady -> TrainConfirmed | SoldOut | Done (list only)
func (e *Engine) confirmTrain(ctx context.Context, s *Session) BookingState {
	html, err := s.Form.Markup(ctx)
	if err != nil {
		return s.fail(newError(KindTransport, "read train list", err))
	}

	trains, err := ParseTrainOptions(html)
	if err != nil {
		return s.fail(newError(KindSubmissionRejected, "read train list", err))
	}
	s.Trains = trains
	e.events.Emit(Event{Type: EventTrains, Trains: trains})

	if len(trains) == 0 {
		if e.form.Inbound != nil {
			e.logger.Info("no trains left before inbound time", "date", FormatSiteDate(e.form.Date), "inbound", e.form.Inbound.String())
		} else {
			e.logger.Info("no trains left", "date", FormatSiteDate(e.form.Date))
		}
		s.LastErr = newError(KindSoldOut, "read train list", fmt.Errorf("train list is empty"))
		return StateSoldOut
	}

	for i, t := range trains {
		e.logger.Info(fmt.Sprintf("%d. %s", i+1, t))
	}

	if e.cfg.ListOnly {
		return StateDone
	}

	choice := e.pickTrain(trains)
	e.logger.Info("auto pick train", "train", choice.String())

	if err := s.Form.Choose(ctx, FieldTrainOption, choice.Value); err != nil {
		return s.fail(newError(KindTransport, "choose train", err))
	}
	if err := s.Form.Submit(ctx, FieldSubmit); err != nil {
		return s.fail(newError(KindTransport, "confirm train", err))
	}

	s.Selected = &choice
	return StateTrainConfirmed
}

func (e *Engine) pickTrain(trains []TrainOption) TrainOption {
	if e.form.TrainNo != "" {
		for _, t := range trains {
			if t.TrainNo == e.form.TrainNo {
				return t
			}
		}
	}
	choice, _ := SelectTrain(trains, e.form.Inbound)
	return choice
}

// TrainConfirmed -> TicketConfirmed
func (e *Engine) confirmTicket(ctx context.Context, s *Session) BookingState {
	f := e.form
	fa := s.Form

	if err := fa.Set(ctx, FieldPassengerID, f.PassengerID); err != nil {
		return s.fail(newError(KindTransport, "fill passenger id", err))
	}
	if err := fa.Set(ctx, FieldPhone, f.Phone); err != nil {
		return s.fail(newError(KindTransport, "fill phone", err))
	}
	if err := fa.Set(ctx, FieldEmail, f.Email); err != nil {
		return s.fail(newError(KindTransport, "fill email", err))
	}

	if f.TGOID != "" {
		if err := fa.Click(ctx, FieldMemberRadio); err != nil {
			e.logger.Warn("membership option not available, booking without it", "err", err)
		} else if err := fa.Set(ctx, FieldMemberNumber, f.TGOID); err != nil {
			return s.fail(newError(KindTransport, "fill membership number", err))
		}
	}

	if err := fa.Check(ctx, FieldAgree); err != nil {
		return s.fail(newError(KindTransport, "accept terms", err))
	}
	if err := fa.Submit(ctx, FieldSubmit); err != nil {
		return s.fail(newError(KindTransport, "confirm ticket", err))
	}

	e.logger.Info("ticket confirmation submitted")
	return StateTicketConfirmed
}

// TicketConfirmed -> Done | Failed
func (e *Engine) extractReceipt(ctx context.Context, s *Session) BookingState {
	html, err := s.Form.Markup(ctx)
	if err != nil {
		return s.fail(newError(KindParse, "read receipt", err))
	}

	receipt, err := ExtractReceipt(html)
	if err != nil {
		// A banner instead of a receipt means the ticket form was refused.
		if messages, ferr := ParseFeedback(html); ferr == nil && len(messages) > 0 && (receipt == nil || receipt.ReservationNo == "") {
			return s.fail(newError(KindSubmissionRejected, "confirm ticket", nil, messages...))
		}
		s.Receipt = receipt
		return s.fail(err)
	}

	s.Receipt = receipt
	e.logger.Info("booking success", "reservation_no", receipt.ReservationNo)
	return StateDone
}
