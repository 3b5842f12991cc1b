package librsocket

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	gmux "github.com/gorilla/mux"
)

// SessionInfo describes an open server connection
type SessionInfo struct {
	ID                string
	RemoteAddr        string
	Transport         string
	User              string `json:",omitempty"`
	Opened            time.Time
	KeepaliveInterval string
	MaxLifetime       string
	MetadataMimeType  string
	DataMimeType      string
	SentPosition      uint64
	ReceivedPosition  uint64
	BytesIn           int64
	BytesOut          int64
}

func (sesh *session) info() SessionInfo {
	sent, received := sesh.conn.Positions()
	return SessionInfo{
		ID:                sesh.id,
		RemoteAddr:        sesh.remoteAddr,
		Transport:         sesh.transport,
		User:              sesh.user,
		Opened:            sesh.opened,
		KeepaliveInterval: sesh.conn.KeepaliveInterval.String(),
		MaxLifetime:       sesh.conn.MaxLifetime.String(),
		MetadataMimeType:  sesh.conn.MetadataMimeType,
		DataMimeType:      sesh.conn.DataMimeType,
		SentPosition:      sent,
		ReceivedPosition:  received,
		BytesIn:           sesh.conn.Valve.GetRx(),
		BytesOut:          sesh.conn.Valve.GetTx(),
	}
}

// Sessions lists the open connections, oldest first
func (s *Server) Sessions() []SessionInfo {
	s.sessionsM.RLock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sesh := range s.sessions {
		infos = append(infos, sesh.info())
	}
	s.sessionsM.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Opened.Before(infos[j].Opened) })
	return infos
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// AdminRouter serves a small JSON API to inspect and close sessions:
// GET /admin/sessions, GET /admin/sessions/{ID} and DELETE /admin/sessions/{ID}.
func (s *Server) AdminRouter() *gmux.Router {
	r := gmux.NewRouter()
	r.HandleFunc("/admin/sessions", s.listSessionsHlr).Methods("GET")
	r.HandleFunc("/admin/sessions/{ID}", s.getSessionHlr).Methods("GET")
	r.HandleFunc("/admin/sessions/{ID}", s.closeSessionHlr).Methods("DELETE")
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", "GET,DELETE,OPTIONS")
	})
	r.Use(corsMiddleware)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	resp, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

func (s *Server) listSessionsHlr(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sessions())
}

func (s *Server) getSessionHlr(w http.ResponseWriter, r *http.Request) {
	sesh, ok := s.getSession(gmux.Vars(r)["ID"])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, sesh.info())
}

func (s *Server) closeSessionHlr(w http.ResponseWriter, r *http.Request) {
	sesh, ok := s.getSession(gmux.Vars(r)["ID"])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	_ = sesh.conn.Close()
	w.WriteHeader(http.StatusNoContent)
}
