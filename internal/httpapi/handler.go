// Package httpapi exposes a diamond over HTTP: the loupe views, cuts,
// calls, interface queries and the audit stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/config"
	"github.com/R3E-Network/diamond_layer/internal/diamond"
	"github.com/R3E-Network/diamond_layer/internal/diamond/events"
	"github.com/R3E-Network/diamond_layer/internal/diamond/metrics"
	"github.com/R3E-Network/diamond_layer/internal/hexutil"
	"github.com/R3E-Network/diamond_layer/internal/logging"
	"github.com/R3E-Network/diamond_layer/internal/selector"
)

// Request headers.
const (
	HeaderSender    = "X-Diamond-Sender"
	HeaderRequestID = "X-Request-ID"
)

const maxBodySize = 1 << 20

// Options configures the handler.
type Options struct {
	Metrics   *metrics.Collector
	Logger    *logging.Logger
	CallRate  float64
	CallBurst int
	// PublicKey verifies RS256 bearer tokens whose subject is the sender.
	PublicKey interface{}
	// TrustSenderHeader accepts X-Diamond-Sender without verification.
	TrustSenderHeader bool
}

// Handler serves one diamond.
type Handler struct {
	diamond  *diamond.Diamond
	log      *logging.Logger
	upgrader websocket.Upgrader
	router   *mux.Router
	limiter  *RateLimiter
}

// NewHandler returns a router serving d.
func NewHandler(d *diamond.Diamond, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.CallRate <= 0 {
		opts.CallRate = 100
	}
	if opts.CallBurst <= 0 {
		opts.CallBurst = 200
	}

	h := &Handler{
		diamond: d,
		log:     opts.Logger,
		limiter: NewRateLimiter(opts.CallRate, opts.CallBurst, opts.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	auth := NewAuthenticator(opts.PublicKey, opts.TrustSenderHeader, opts.Logger)

	r := mux.NewRouter()
	r.Use(h.requestContext, auth.Handler)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/facets", h.facets).Methods(http.MethodGet)
	r.HandleFunc("/facets/addresses", h.facetAddresses).Methods(http.MethodGet)
	r.HandleFunc("/facets/{facet}/selectors", h.facetSelectors).Methods(http.MethodGet)
	r.HandleFunc("/selectors/{selector}/facet", h.selectorFacet).Methods(http.MethodGet)
	r.HandleFunc("/interfaces/{id}", h.supportsInterface).Methods(http.MethodGet)
	r.HandleFunc("/cut", h.cut).Methods(http.MethodPost)
	r.Handle("/call", h.limiter.Handler(http.HandlerFunc(h.call))).Methods(http.MethodPost)
	r.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/ws", h.streamEvents).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// StartCleanup prunes rate limiters idle for maxIdle every interval until
// ctx is done.
func (h *Handler) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	h.limiter.StartCleanup(ctx, interval, maxIdle)
}

// requestContext attaches a request ID to the context.
func (h *Handler) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx = events.WithRequestID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"diamond": "0x" + h.diamond.Address().StringLE(),
		"facets":  len(h.diamond.FacetAddresses(r.Context())),
	})
}

type facetView struct {
	Facet     string   `json:"facet"`
	Selectors []string `json:"selectors"`
}

func (h *Handler) facets(w http.ResponseWriter, r *http.Request) {
	grouped := h.diamond.Facets(r.Context())
	out := make([]facetView, 0, len(grouped))
	for _, f := range grouped {
		out = append(out, facetView{Facet: handleString(f.Facet), Selectors: selectorStrings(f.Selectors)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) facetAddresses(w http.ResponseWriter, r *http.Request) {
	addrs := h.diamond.FacetAddresses(r.Context())
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, handleString(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) facetSelectors(w http.ResponseWriter, r *http.Request) {
	facet, err := config.ParseHandle(mux.Vars(r)["facet"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, selectorStrings(h.diamond.FacetFunctionSelectors(r.Context(), facet)))
}

func (h *Handler) selectorFacet(w http.ResponseWriter, r *http.Request) {
	sel, err := selector.Resolve(mux.Vars(r)["selector"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"selector": sel.String(),
		"facet":    handleString(h.diamond.FacetAddress(r.Context(), sel)),
	})
}

func (h *Handler) supportsInterface(w http.ResponseWriter, r *http.Request) {
	id, err := selector.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := h.diamond.SupportsInterface(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"interface": id.String(), "supported": ok})
}

type cutRequest struct {
	Cuts []struct {
		Facet     string   `json:"facet"`
		Action    string   `json:"action"`
		Selectors []string `json:"selectors"`
	} `json:"cuts"`
	Init     string        `json:"init"`
	Calldata hexutil.Bytes `json:"calldata"`
}

func (h *Handler) cut(w http.ResponseWriter, r *http.Request) {
	var req cutRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cuts := make([]diamond.Cut, 0, len(req.Cuts))
	for i, c := range req.Cuts {
		var cut diamond.Cut
		if err := cut.Action.UnmarshalText([]byte(c.Action)); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("cut %d: %w", i, err))
			return
		}
		if c.Facet != "" {
			facet, err := config.ParseHandle(c.Facet)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("cut %d: %w", i, err))
				return
			}
			cut.Facet = facet
		}
		sels, err := config.Selectors(c.Selectors)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("cut %d: %w", i, err))
			return
		}
		cut.Selectors = sels
		cuts = append(cuts, cut)
	}

	var init util.Uint160
	if req.Init != "" {
		var err error
		if init, err = config.ParseHandle(req.Init); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("init: %w", err))
			return
		}
	}

	if err := h.diamond.ApplyCut(r.Context(), cuts, init, req.Calldata); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied": len(cuts),
		"facets":  len(h.diamond.FacetAddresses(r.Context())),
	})
}

type callRequest struct {
	Calldata hexutil.Bytes `json:"calldata"`
}

func (h *Handler) call(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.diamond.Call(r.Context(), req.Calldata)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]hexutil.Bytes{"result": out})
}

func (h *Handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	n := 100
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid n %q", s))
			return
		}
		n = v
	}
	audit := h.diamond.Events()
	var evs []events.Event
	if t := r.URL.Query().Get("type"); t != "" {
		evs = audit.RecentByType(events.EventType(t), n)
	} else {
		evs = audit.Recent(n)
	}
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// streamEvents pushes every audit event to a websocket client. Slow clients
// lose events rather than stalling the diamond.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	queue := make(chan events.Event, 64)
	unsubscribe := h.diamond.Events().Subscribe(func(e events.Event) {
		select {
		case queue <- e:
		default:
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// statusFor maps diamond errors to HTTP status codes.
func statusFor(err error) int {
	var rev *diamond.RevertError
	switch {
	case errors.Is(err, diamond.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, diamond.ErrUnknownOperation):
		return http.StatusNotFound
	case errors.Is(err, diamond.ErrReentrantCut):
		return http.StatusConflict
	case errors.Is(err, diamond.ErrInitializationFailed), errors.As(err, &rev):
		return http.StatusUnprocessableEntity
	case diamond.Kind(err) != "internal":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func handleString(h util.Uint160) string {
	return "0x" + h.StringLE()
}

func selectorStrings(sels []selector.Selector) []string {
	out := make([]string, len(sels))
	for i, s := range sels {
		out[i] = s.String()
	}
	return out
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	kind := diamond.Kind(err)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		kind = "unauthenticated"
	case kind == "internal" && status < http.StatusInternalServerError:
		kind = "bad_request"
	}
	body := map[string]string{"error": err.Error(), "kind": kind}
	var rev *diamond.RevertError
	if errors.As(err, &rev) {
		body["revert"] = hexutil.Encode(rev.Data)
	}
	writeJSON(w, status, body)
}
