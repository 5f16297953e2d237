package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/santabox/santa"
)

const maxBodyBytes = 64 << 10

type submitRequest struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
	Text  string   `json:"text"`
}

// sessionFor opens (or reuses) the room named in the path and joins it as
// the requesting browser.
func sessionFor(rm *RoomManager, w http.ResponseWriter, r *http.Request, ps httprouter.Params) (*santa.RoomSession, error) {
	hub, err := rm.getHub(r.Context(), ps.ByName("room"))
	if err != nil {
		return nil, err
	}

	return hub.room.Join(identityFor(w, r)), nil
}

func serveRoomState(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		sess, err := sessionFor(rm, w, r, ps)
		if err != nil {
			writeRoomError(w, err)
			return
		}

		securityHeaders(cfg, w)
		writeJSON(w, http.StatusOK, roomState(sess))

		logf(cfg, "SERVE: Room %s state to %s in %s",
			sess.Room().Code(),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveSubmitWishlist(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req submitRequest

		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess, err := sessionFor(rm, w, r, ps)
		if err != nil {
			writeRoomError(w, err)
			return
		}

		items := req.Items
		if len(items) == 0 && req.Text != "" {
			items = santa.ParseItems(req.Text)
		}

		sub, err := sess.Submit(req.Name, items)
		if err != nil {
			writeRoomError(w, err)
			return
		}

		logf(cfg, "ROOMS: Wishlist from %q in %s (%s)", sub.Name, sess.Room().Code(), realIP(r))

		securityHeaders(cfg, w)
		writeJSON(w, http.StatusOK, roomState(sess))
	}
}

func serveDeleteWishlist(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		index, err := strconv.Atoi(ps.ByName("index"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid wishlist index")
			return
		}

		sess, err := sessionFor(rm, w, r, ps)
		if err != nil {
			writeRoomError(w, err)
			return
		}

		if err := sess.Delete(index); err != nil {
			writeRoomError(w, err)
			return
		}

		logf(cfg, "ROOMS: Wishlist %d deleted in %s", index, sess.Room().Code())

		securityHeaders(cfg, w)
		writeJSON(w, http.StatusOK, roomState(sess))
	}
}

func serveRegenerate(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sess, err := sessionFor(rm, w, r, ps)
		if err != nil {
			writeRoomError(w, err)
			return
		}

		if err := sess.Regenerate(); err != nil {
			writeRoomError(w, err)
			return
		}

		logf(cfg, "ROOMS: Matches drawn in %s", sess.Room().Code())

		securityHeaders(cfg, w)
		writeJSON(w, http.StatusOK, roomState(sess))
	}
}

// serveMyMatch returns the caller's own assignment. ?name= is only
// consulted when the browser has no matching device record.
func serveMyMatch(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sess, err := sessionFor(rm, w, r, ps)
		if err != nil {
			writeRoomError(w, err)
			return
		}

		securityHeaders(cfg, w)
		writeJSON(w, http.StatusOK, myMatch(sess, r.URL.Query().Get("name")))
	}
}

func registerRooms(cfg *Config, rm *RoomManager, mux *httprouter.Router) {
	path := cfg.prefix + "/rooms"

	mux.GET(path, redirectNewRoom(cfg, rm))
	mux.GET(path+"/:room", serveRoomState(cfg, rm))
	mux.GET(path+"/:room/match", serveMyMatch(cfg, rm))
	mux.GET(path+"/:room/qr", serveQR(cfg))
	mux.GET(path+"/:room/ws", serveWS(cfg, rm))
	mux.POST(path+"/:room/matches", serveRegenerate(cfg, rm))
	mux.POST(path+"/:room/wishlists", serveSubmitWishlist(cfg, rm))
	mux.DELETE(path+"/:room/wishlists/:index", serveDeleteWishlist(cfg, rm))
}
