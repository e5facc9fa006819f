package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/immxrtalbeast/axenix_mesh/internal/api/http/converter"
	"github.com/immxrtalbeast/axenix_mesh/internal/service"
)

// RoomController exposes read-only views of the relay's room registry.
type RoomController struct {
	relay service.RelayInteractor
}

func NewRoomController(relay service.RelayInteractor) *RoomController {
	return &RoomController{relay: relay}
}

func (c *RoomController) ListRooms(ctx *gin.Context) {
	rooms, err := c.relay.ListRooms(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rooms": converter.RoomsToApi(rooms)})
}

func (c *RoomController) GetRoom(ctx *gin.Context) {
	room, err := c.relay.GetRoom(ctx.Request.Context(), ctx.Param("roomID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(room)})
}
