package server

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"msggrabber/internal/config"
	"msggrabber/internal/database"
	"msggrabber/internal/domain"
	"msggrabber/internal/jobs/maintenance"
	"msggrabber/internal/support"
)

// Request parameter names for the query and purge endpoints.
const (
	paramAge     = "age"
	paramCount   = "count"
	paramDst     = "dst"
	paramFmt     = "fmt"
	paramOrderBy = "orderby"
	paramDebug   = "debug"
)

const (
	formatXML  = "xml"
	formatJSON = "json"
)

var contentTypes = map[string]string{
	formatXML:  "application/xml",
	formatJSON: "application/json",
}

func (s *Server) clientIP(r *http.Request) string {
	return support.ClientIP(r, s.opts.TrustedProxies)
}

func (s *Server) ingestHandler(ep *config.Endpoint) http.HandlerFunc {
	provider := ep.Provider
	if provider == "" {
		provider = config.DefaultProvider
	}

	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := s.authorize(w, r, ep)
		if !ok {
			return
		}

		var stored *domain.Message
		if params != nil {
			msg := &domain.Message{
				Src:      params.Get("src"),
				Dst:      params.Get("dst"),
				Msg:      params.Get("msg"),
				Provider: provider,
				IP:       s.clientIP(r),
			}
			if v, ok := params.Lookup("sent"); ok {
				msg.Sent = &v
			}
			if v, ok := params.Lookup("recv"); ok {
				msg.Recv = &v
			}

			err := msg.SetExpiry(params.Get("expiry"))
			if err == nil {
				err = database.InsertMessage(r.Context(), msg)
			}
			if err != nil {
				log.Error("Message store failed", "path", r.URL.Path, "error", err)
				writeError(w, "Message store failed", http.StatusInternalServerError)
				return
			}
			stored = msg
			log.Debug("Message stored", "path", r.URL.Path, "provider", provider, "dst", msg.Dst)
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if ep.Response != "" {
			_, _ = io.WriteString(w, ep.Response+"\n")
		}

		if r.Form.Has(paramDebug) {
			_, _ = io.WriteString(w, "\n")
			if stored == nil {
				_, _ = io.WriteString(w, "Nothing stored\n")
				return
			}
			out, err := xml.Marshal(stored)
			if err != nil {
				log.Error("Encode debug echo", "error", err)
				return
			}
			_, _ = w.Write(append(out, '\n'))
		}
	}
}

func (s *Server) queryHandler(ep *config.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := s.authorize(w, r, ep)
		if !ok {
			return
		}
		if params == nil {
			w.WriteHeader(http.StatusOK)
			return
		}

		format := params.Get(paramFmt)
		if format == "" {
			format = formatXML
		}
		contentType, known := contentTypes[format]
		if !known {
			log.Error("Cannot handle output format", "path", r.URL.Path, "format", format, "severity", "critical")
			writeError(w, "Bad output format", http.StatusInternalServerError)
			return
		}

		q := database.MessageQuery{
			Dst:     params.Get(paramDst),
			Limit:   outLimit(ep),
			OrderBy: params.Get(paramOrderBy),
		}

		if raw := params.Get(paramCount); raw != "" {
			count, err := strconv.Atoi(raw)
			if err != nil || count < 0 {
				writeError(w, "Parameter \"count\": must be a non-negative integer", http.StatusBadRequest)
				return
			}
			q.Limit = min(count, q.Limit)
		}

		if raw := params.Get(paramAge); raw != "" {
			age, err := config.ParseAge(raw)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			since := config.Cutoff(time.Now().UTC(), age)
			q.Since = &since
		}

		var msgs []domain.Message
		if q.Limit > 0 {
			var err error
			msgs, err = database.QueryMessages(r.Context(), q)
			if err != nil {
				if errors.Is(err, database.ErrInvalidOrder) {
					log.Error("Cannot order messages", "path", r.URL.Path, "orderby", q.OrderBy, "severity", "critical")
				} else {
					log.Error("Message retrieval failed", "path", r.URL.Path, "error", err)
				}
				writeError(w, "Message retrieval failed", http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		if err := writeMessages(w, format, msgs); err != nil {
			log.Error("Write messages", "path", r.URL.Path, "error", err)
		}
	}
}

// outLimit is the most messages one request may receive from ep.
func outLimit(ep *config.Endpoint) int {
	if ep.MaxOut > 0 {
		return min(ep.MaxOut, database.MaxMessagesOut)
	}
	return database.MaxMessagesOut
}

// writeMessages writes one JSON object per line, or a MessageList document.
func writeMessages(w io.Writer, format string, msgs []domain.Message) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		for i := range msgs {
			if err := enc.Encode(&msgs[i]); err != nil {
				return err
			}
		}
		return nil
	}

	enc := xml.NewEncoder(w)
	if err := enc.Encode(domain.MessageList{Messages: msgs}); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func (s *Server) purgeHandler(ep *config.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := s.authorize(w, r, ep)
		if !ok {
			return
		}
		if params == nil {
			w.WriteHeader(http.StatusOK)
			return
		}

		age := maintenance.DefaultPurgeAge
		if raw := params.Get(paramAge); raw != "" {
			parsed, err := config.ParseAge(raw)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			age = parsed
		}

		if s.purger == nil {
			log.Error("Purge requested but no purger configured", "severity", "critical")
			writeError(w, "Purge unavailable", http.StatusInternalServerError)
			return
		}

		s.purger.PurgeAsync(age)
		log.Info("Purge scheduled", "age", age, "ip", s.clientIP(r))
		w.WriteHeader(http.StatusOK)
	}
}
