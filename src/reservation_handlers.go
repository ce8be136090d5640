package main

import (
	"net/http"
	"resv/src/common"
	"resv/src/middlewares"
	"resv/src/models"
	"resv/src/types"
	"resv/src/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func partnerFromContext(ctx *gin.Context) *models.Partner {
	v, ok := ctx.Get(middlewares.PartnerContextKey)
	if !ok {
		return nil
	}
	return v.(*models.Partner)
}

func reservationURI(ctx *gin.Context) (uuid.UUID, bool) {
	var params types.ReservationURIParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		utils.RespondError(ctx, types.NewAPIError(types.ERR_VALIDATION, "id must be a UUID"))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(params.ID)
	if err != nil {
		utils.RespondError(ctx, types.NewAPIError(types.ERR_VALIDATION, "id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func reservationHandlers(g *gin.RouterGroup, m *common.ReservationMachine, store common.ReservationStore) *gin.RouterGroup {
	g.
		POST("/reservations", func(ctx *gin.Context) {
			partner := partnerFromContext(ctx)
			var body types.CreateReservationRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				utils.RespondError(ctx, types.NewAPIError(types.ERR_VALIDATION, err.Error()))
				return
			}
			r, err := m.Create(ctx.Request.Context(), partner, &body)
			if err != nil {
				utils.RespondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": utils.ReservationResponse(r, nil)})
		}).
		GET("/reservations/:id", func(ctx *gin.Context) {
			partner := partnerFromContext(ctx)
			id, ok := reservationURI(ctx)
			if !ok {
				return
			}
			r, err := m.Get(ctx.Request.Context(), partner, id)
			if err != nil {
				utils.RespondError(ctx, err)
				return
			}
			booking, _ := store.FindBookingByReservation(ctx.Request.Context(), r.ID)
			ctx.JSON(http.StatusOK, gin.H{"data": utils.ReservationResponse(r, booking)})
		}).
		POST("/reservations/:id/commit", func(ctx *gin.Context) {
			partner := partnerFromContext(ctx)
			id, ok := reservationURI(ctx)
			if !ok {
				return
			}
			r, err := m.Commit(ctx.Request.Context(), partner, id)
			if err != nil {
				utils.RespondError(ctx, err)
				return
			}
			booking, _ := store.FindBookingByReservation(ctx.Request.Context(), r.ID)
			ctx.JSON(http.StatusOK, gin.H{"data": utils.ReservationResponse(r, booking)})
		}).
		POST("/reservations/:id/cancel", func(ctx *gin.Context) {
			partner := partnerFromContext(ctx)
			id, ok := reservationURI(ctx)
			if !ok {
				return
			}
			r, err := m.Cancel(ctx.Request.Context(), partner, id)
			if err != nil {
				utils.RespondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": utils.ReservationResponse(r, nil)})
		})
	return g
}
