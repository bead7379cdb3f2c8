package handlers

import (
	"context"
	"net/http"

	"github.com/arunpravin125/Eduvance-api/internal/middleware"
	"github.com/arunpravin125/Eduvance-api/internal/models"
	"github.com/arunpravin125/Eduvance-api/internal/service"
	"github.com/arunpravin125/Eduvance-api/internal/ws"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type ChatHandler struct {
	Chat       *service.ChatService
	Hub        *ws.Hub
	SendBuffer int

	upgrader *websocket.Upgrader
	validate *validator.Validate
	log      zerolog.Logger
}

type PrivateMessageResponse struct {
	RoomID  string             `json:"room_id"`
	Message models.MessageView `json:"message"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

type SeenResponse struct {
	SeenBy models.UserSet `json:"seen_by"`
}

func (h *ChatHandler) CreateGroupRoom(w http.ResponseWriter, r *http.Request) {
	var in service.CreateGroupRoomInput
	if err := decode(w, r, h.validate, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	in.CommunityID = mux.Vars(r)["communityId"]

	room, err := h.Chat.CreateGroupRoom(r.Context(), middleware.UserIDFrom(r.Context()), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, room.Summary())
}

func (h *ChatHandler) ListCommunityRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Chat.ListCommunityRooms(r.Context(), middleware.UserIDFrom(r.Context()), mux.Vars(r)["communityId"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	for i := range rooms {
		rooms[i].Online = h.Hub.Online(rooms[i].ID)
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Chat.ListConversations(r.Context(), middleware.UserIDFrom(r.Context()))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ChatHandler) SendPrivateMessage(w http.ResponseWriter, r *http.Request) {
	var in service.MessageInput
	if err := decode(w, r, h.validate, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	room, msg, err := h.Chat.SendPrivateMessage(r.Context(), middleware.UserIDFrom(r.Context()), mux.Vars(r)["recipientId"], in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	views, err := h.views(r.Context(), []models.Message{*msg})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, PrivateMessageResponse{RoomID: room.ID, Message: views[0]})
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var in service.MessageInput
	if err := decode(w, r, h.validate, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	msg, err := h.Chat.SendMessage(r.Context(), middleware.UserIDFrom(r.Context()), mux.Vars(r)["roomId"], in)
	h.writeMessage(w, r, msg, err)
}

func (h *ChatHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var in service.MessageInput
	if err := decode(w, r, h.validate, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	vars := mux.Vars(r)
	msg, err := h.Chat.ReplyToMessage(r.Context(), middleware.UserIDFrom(r.Context()), vars["roomId"], vars["messageId"], in)
	h.writeMessage(w, r, msg, err)
}

func (h *ChatHandler) writeMessage(w http.ResponseWriter, r *http.Request, msg *models.Message, err error) {
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	views, err := h.views(r.Context(), []models.Message{*msg})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, views[0])
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Chat.ListVisibleMessages(r.Context(), middleware.UserIDFrom(r.Context()), mux.Vars(r)["roomId"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	views, err := h.views(r.Context(), msgs)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *ChatHandler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	var req ReactionRequest
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	vars := mux.Vars(r)
	res, err := h.Chat.ToggleReaction(r.Context(), middleware.UserIDFrom(r.Context()), vars["roomId"], vars["messageId"], req.Emoji)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ChatHandler) GetReactions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	views, err := h.Chat.GetReactions(r.Context(), middleware.UserIDFrom(r.Context()), vars["roomId"], vars["messageId"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *ChatHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	seenBy, err := h.Chat.MarkSeen(r.Context(), middleware.UserIDFrom(r.Context()), vars["roomId"], vars["messageId"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, SeenResponse{SeenBy: seenBy})
}

func (h *ChatHandler) GetSeenBy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	profiles, err := h.Chat.GetSeenBy(r.Context(), middleware.UserIDFrom(r.Context()), vars["roomId"], vars["messageId"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.Chat.DeleteMessageForMe(r.Context(), middleware.UserIDFrom(r.Context()), vars["roomId"], vars["messageId"]); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.Chat.DeleteRoomForMe(r.Context(), middleware.UserIDFrom(r.Context()), mux.Vars(r)["roomId"]); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	ws.ServeWs(h.Hub, h.Chat, h.upgrader, w, r, middleware.UserIDFrom(r.Context()), h.SendBuffer, h.log)
}

// views attaches current sender usernames to messages.
func (h *ChatHandler) views(ctx context.Context, msgs []models.Message) ([]models.MessageView, error) {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.Sender)
	}
	profiles, err := h.Chat.ResolveProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.MessageView, 0, len(msgs))
	for i := range msgs {
		v := msgs[i].View()
		v.Username = profiles[v.Sender].Username
		out = append(out, v)
	}
	return out, nil
}
