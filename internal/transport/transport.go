// Package transport implements the seven HTTP/SSE routes of §6, deliberately
// kept thin: §1 scopes the HTTP/SSE transport itself out ("only their
// interfaces named"), so this package holds just enough chi routing and
// manual text/event-stream writing to exercise the engine end to end, per
// SPEC_FULL.md's DOMAIN STACK entry for go-chi/chi.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"secmatch/internal/domain"
	"secmatch/internal/outbox"
	"secmatch/internal/phase"
	"secmatch/internal/registry"
	"secmatch/internal/store"
)

// Server wires the durable store, phase controller, registry and outbox
// into a chi router implementing §6's routes.
type Server struct {
	store store.Store
	phase *phase.Controller
	reg   *registry.Registry
	out   *outbox.Outbox
	log   zerolog.Logger
}

// New returns a Server; call Router to obtain the http.Handler to serve.
func New(st store.Store, p *phase.Controller, reg *registry.Registry, out *outbox.Outbox, log zerolog.Logger) *Server {
	return &Server{store: st, phase: p, reg: reg, out: out, log: log}
}

// Router builds the chi router for every route in §6.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/place/{account_id}", s.handlePlace)
	r.Delete("/cancel/{account_id}", s.handleCancel)
	r.Put("/ctrl", s.handleCtrl)
	r.Get("/watch/{code}", s.handleWatch)
	r.Get("/msg", s.handleMsg)
	r.Get("/review_actions", s.handleReviewActions)
	r.Get("/view_matching", s.handleViewMatching)
	return r
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func accountIDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		raw = r.URL.Query().Get(name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return id, nil
}

// placeRequest is route.rs's place body: `{code, dir, price, quantity}`.
type placeRequest struct {
	Code     string          `json:"code"`
	Dir      domain.Dir      `json:"dir"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := accountIDParam(r, "account_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.phase.Current().CanPlace() {
		writeError(w, http.StatusForbidden, fmt.Errorf("transport: phase %s forbids place", s.phase.Current()))
		return
	}

	var body placeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("transport: decode place body: %w", err))
		return
	}
	rawBody, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	seq, err := s.store.RecordRequest(ctx, accountID, rawBody)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("transport: record request: %w", err))
		return
	}

	order := &domain.Order{Seq: seq, Code: body.Code, Dir: body.Dir, Price: body.Price, Quantity: body.Quantity}
	sec := s.reg.EntryOrDefault(ctx, body.Code)
	if err := sec.Place(ctx, order, func(ctx context.Context, o *domain.Order) error {
		return s.store.RecordOrder(ctx, o)
	}); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("transport: place: %w", err))
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]int64{"seq": seq})
}

// cancelRequest is route.rs's cancel body: just the target seq.
type cancelRequest struct {
	Seq int64 `json:"seq"`
}

// cancelMessage builds the "Canceled" outbox notification carried over from
// route.rs's cancel handler: quantity is nil when the seq was not found
// anywhere, matching the not-found branch being idempotent rather than an
// error.
func cancelMessage(accountID, seq int64, quantity *int64) (domain.Message, error) {
	payload := struct {
		Seq      int64  `json:"seq"`
		Quantity *int64 `json:"quantity"`
	}{Seq: seq, Quantity: quantity}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Message{}, fmt.Errorf("transport: marshal cancel message: %w", err)
	}
	return domain.Message{AccountID: accountID, EventType: "Canceled", Data: data, HappenedAt: time.Now()}, nil
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := accountIDParam(r, "account_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.phase.Current().CanCancel() {
		writeError(w, http.StatusForbidden, fmt.Errorf("transport: phase %s forbids cancel", s.phase.Current()))
		return
	}

	var body cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("transport: decode cancel body: %w", err))
		return
	}

	journal := func(ctx context.Context, quantity *int64) error {
		if err := s.store.RecordCancel(ctx, accountID, body.Seq, quantity); err != nil {
			return err
		}
		msg, err := cancelMessage(accountID, body.Seq, quantity)
		if err != nil {
			return err
		}
		return s.out.Send(ctx, accountID, msg)
	}

	row, found, err := s.store.OrderBySeq(ctx, body.Seq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("transport: order by seq: %w", err))
		return
	}
	if !found {
		// Not-found cancel is idempotent (§7(b)): journal the no-op and
		// return 204 without touching any Security.
		if err := journal(ctx, nil); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("transport: journal cancel: %w", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sec := s.reg.EntryOrDefault(ctx, row.Code)
	if err := sec.Cancel(ctx, &row, journal); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("transport: cancel: %w", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ctrlRequest struct {
	Phase domain.Phase `json:"phase"`
}

// handleCtrl installs a new phase and, on the Call->Suspense edge, fans the
// call-auction sweep out across every registered instrument concurrently
// via an errgroup, per §4.3. Per route.rs::ctrl, the sweep is fired
// detached (like a `tokio::spawn`) rather than awaited: §6 specifies /ctrl
// always acks 200 immediately, not after however long every instrument's
// settle delay plus Book.Calc takes, and the sweep must outlive this
// request's context regardless of when the client disconnects.
func (s *Server) handleCtrl(w http.ResponseWriter, r *http.Request) {
	var body ctrlRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("transport: decode ctrl body: %w", err))
		return
	}

	previous := s.phase.Set(body.Phase)
	if previous == domain.Call && body.Phase == domain.Suspense {
		go func() {
			g, ctx := errgroup.WithContext(context.Background())
			s.reg.RunCallAuction(ctx, g)
			if err := g.Wait(); err != nil {
				s.log.Error().Err(err).Msg("call auction fan-out returned an error")
			}
		}()
	}
	w.WriteHeader(http.StatusOK)
}

func flusher(w http.ResponseWriter) (http.Flusher, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("transport: response writer does not support flushing")
	}
	return f, nil
}

func writeSSE(w http.ResponseWriter, f http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	f.Flush()
	return nil
}

// handleWatch streams book/trade deltas for one instrument: an initial
// Picture snapshot, then "order" and "trade" events as they occur, per §6.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	f, err := flusher(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	sec := s.reg.EntryOrDefault(r.Context(), code)
	if err := writeSSE(w, f, "picture", sec.View()); err != nil {
		return
	}

	orders := sec.SubscribeOrders()
	deals := sec.SubscribeDeals()

	type event struct {
		name    string
		payload any
	}
	events := make(chan event)
	done := r.Context().Done()

	go func() {
		for {
			v, ok := orders.Next()
			if !ok {
				return
			}
			select {
			case events <- event{"order", v}:
			case <-done:
				return
			}
		}
	}()
	go func() {
		for {
			v, ok := deals.Next()
			if !ok {
				return
			}
			select {
			case events <- event{"trade", v}:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if err := writeSSE(w, f, ev.name, ev.payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// sseLive adapts an http.ResponseWriter/Flusher pair into an outbox.Live,
// serializing concurrent Send calls from different trade-sink goroutines.
type sseLive struct {
	mu sync.Mutex
	w  http.ResponseWriter
	f  http.Flusher
}

func (l *sseLive) Send(msg domain.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return writeSSE(l.w, l.f, msg.EventType, msg.Data)
}

// handleMsg streams one account's outbox: the backlog of durably stored
// unsent messages as the first frame, then live events as they arrive,
// per §6 and §4.5.
func (s *Server) handleMsg(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, err := flusher(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	live := &sseLive{w: w, f: f}
	pending := s.out.Online(accountID, live)
	defer s.out.Offline(accountID, live)

	if err := writeSSE(w, f, "backlog", pending); err != nil {
		return
	}
	<-r.Context().Done()
}

func (s *Server) handleReviewActions(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reqs, err := s.store.RequestsByAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for _, req := range reqs {
		if err := enc.Encode(req); err != nil {
			return
		}
	}
}

func (s *Server) handleViewMatching(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	orders, err := s.store.OrdersByAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(orders)
}
