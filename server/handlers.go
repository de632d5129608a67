package server

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hkinc45/dev-kitchen-session/errors"
	"github.com/hkinc45/dev-kitchen-session/models"
	"github.com/hkinc45/dev-kitchen-session/worker"
)

type createProfileRequest struct {
	FirstName string  `json:"first_name" binding:"required"`
	LastName  string  `json:"last_name" binding:"required"`
	DOB       string  `json:"dob"`
	UserType  string  `json:"user_type"`
	Credits   int     `json:"credits" binding:"min=0"`
	Phone     *string `json:"phone"`
}

type creditsRequest struct {
	Credits *int `json:"credits" binding:"required"`
}

type credentialRequest struct {
	Password string `json:"password" binding:"required"`
}

// RegisterRoutes mounts the owner-scoped profile API on r.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	profiles := r.Group("/v1/profiles/:id", s.mw.UserAuth(), s.mw.RequireOwner("id"))
	profiles.GET("", s.getProfile)
	profiles.POST("", s.createProfile)
	profiles.PATCH("", s.updateProfile)
	profiles.PUT("/credits", s.updateCredits)
	profiles.PUT("/credential", s.updateCredential)
	profiles.GET("/addresses", s.listAddresses)
	profiles.POST("/addresses", s.createAddress)
	profiles.PUT("/addresses/:addressID", s.updateAddress)
	profiles.DELETE("/addresses/:addressID", s.deleteAddress)
}

func (s *Server) writeError(c *gin.Context, err error) {
	var apiErr *errors.APIError
	if !stderrors.As(err, &apiErr) {
		s.cfg.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		apiErr = errors.NewInternalServerError("internal error")
	}
	c.AbortWithStatusJSON(apiErr.StatusCode, apiErr)
}

func (s *Server) getProfile(c *gin.Context) {
	p, err := s.cfg.Backend.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if p == nil {
		s.writeError(c, errors.NewNotFoundError("profile not found"))
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) createProfile(c *gin.Context) {
	if s.cfg.Provisioner == nil {
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, errors.NewAPIError(http.StatusMethodNotAllowed, "provisioning is disabled"))
		return
	}
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.NewBadRequestError("invalid profile: "+err.Error()))
		return
	}
	id := c.Param("id")
	p, err := s.cfg.Provisioner.CreateProfile(c.Request.Context(), models.Profile{
		ID:        id,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		DOB:       req.DOB,
		UserType:  req.UserType,
		Credits:   req.Credits,
		Phone:     req.Phone,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.cfg.Events != nil {
		if err := worker.PublishProvisioned(s.cfg.Events, s.cfg.SubjectPrefix, id); err != nil {
			s.cfg.Logger.Warn().Err(err).Str("identity_id", id).Msg("profile created but event not published")
		}
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) updateProfile(c *gin.Context) {
	var patch models.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		s.writeError(c, errors.NewBadRequestError("invalid profile patch: "+err.Error()))
		return
	}
	if err := models.ValidateProfilePatch(patch); err != nil {
		s.writeError(c, err)
		return
	}
	p, err := s.cfg.Backend.UpdateProfile(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) updateCredits(c *gin.Context) {
	var req creditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.NewBadRequestError("credits is required"))
		return
	}
	n, err := s.cfg.Backend.UpdateCredits(c.Request.Context(), c.Param("id"), *req.Credits)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": n})
}

func (s *Server) updateCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.NewBadRequestError("password is required"))
		return
	}
	if err := s.cfg.Backend.UpdatePassword(c.Request.Context(), c.Param("id"), req.Password); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listAddresses(c *gin.Context) {
	list, err := s.cfg.Backend.ListAddresses(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.CloneAddresses(list))
}

// bindAddress reports missing fields the same way the engine's own validation does.
func (s *Server) bindAddress(c *gin.Context) (models.AddressInput, bool) {
	var in models.AddressInput
	if err := c.ShouldBindJSON(&in); err != nil {
		if verr := models.ValidateAddress(in); verr != nil {
			s.writeError(c, verr)
		} else {
			s.writeError(c, errors.NewBadRequestError("invalid address: "+err.Error()))
		}
		return in, false
	}
	if err := models.ValidateAddress(in); err != nil {
		s.writeError(c, err)
		return in, false
	}
	return in, true
}

func (s *Server) createAddress(c *gin.Context) {
	in, ok := s.bindAddress(c)
	if !ok {
		return
	}
	a, err := s.cfg.Backend.CreateAddress(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) updateAddress(c *gin.Context) {
	in, ok := s.bindAddress(c)
	if !ok {
		return
	}
	a, err := s.cfg.Backend.UpdateAddress(c.Request.Context(), c.Param("id"), c.Param("addressID"), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) deleteAddress(c *gin.Context) {
	deleted, err := s.cfg.Backend.DeleteAddress(c.Request.Context(), c.Param("id"), c.Param("addressID"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
