package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/markw53/mt-api/internal/helpers"
	"github.com/markw53/mt-api/internal/middleware"
	"github.com/markw53/mt-api/internal/models"
)

func GetMe(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	gormDB := middleware.GetDB(c)
	var user models.User
	if err := gormDB.First(&user, userID).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "User not found.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

func GetUser(c *gin.Context) {
	userID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	gormDB := middleware.GetDB(c)
	var user models.User
	if err := gormDB.First(&user, userID).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "User not found.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

type UpdateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" binding:"omitempty,email"`
}

func UpdateUser(c *gin.Context) {
	userID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	callerID, _ := middleware.CurrentUserID(c)
	if callerID != userID {
		helpers.RespondWithError(c, http.StatusForbidden, "You can only update your own profile")
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	gormDB := middleware.GetDB(c)
	var user models.User
	if err := gormDB.First(&user, userID).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "User not found.")
		return
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Email != "" {
		updates["email"] = req.Email
	}
	if len(updates) > 0 {
		if err := gormDB.Model(&user).Updates(updates).Error; err != nil {
			helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to update user.")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
