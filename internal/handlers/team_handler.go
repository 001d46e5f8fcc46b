package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/markw53/mt-api/internal/helpers"
	"github.com/markw53/mt-api/internal/middleware"
	"github.com/markw53/mt-api/internal/models"
	"gorm.io/gorm"
)

type CreateTeamRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// CreateTeam creates a team and makes the caller its team_admin.
func CreateTeam(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	gormDB := middleware.GetDB(c)

	team := models.Team{Name: req.Name, Description: req.Description}
	err := gormDB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		member := models.TeamMember{TeamID: team.ID, UserID: userID, Role: models.TeamRoleAdmin}
		return tx.Create(&member).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			helpers.RespondWithError(c, http.StatusConflict, "A team with that name already exists.")
			return
		}
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to create team.")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"team": team})
}

func ListTeams(c *gin.Context) {
	gormDB := middleware.GetDB(c)

	var teams []models.Team
	if err := gormDB.Order("created_at DESC").Find(&teams).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving teams.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"teams": teams})
}

func GetTeam(c *gin.Context) {
	teamID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid team ID format")
		return
	}

	gormDB := middleware.GetDB(c)
	var team models.Team
	if err := gormDB.First(&team, teamID).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "Team not found.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"team": team})
}

type AddTeamMemberRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=team_admin event_manager member"`
}

// AddTeamMember adds a user to the team. Only the team's admins may manage
// membership.
func AddTeamMember(c *gin.Context) {
	teamID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid team ID format")
		return
	}

	callerID, _ := middleware.CurrentUserID(c)
	gormDB := middleware.GetDB(c)

	if !hasTeamRole(gormDB, teamID, callerID, models.TeamRoleAdmin) {
		helpers.RespondWithError(c, http.StatusForbidden, "Only team admins can manage members")
		return
	}

	var req AddTeamMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	var user models.User
	if err := gormDB.First(&user, req.UserID).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "User not found.")
		return
	}

	member := models.TeamMember{TeamID: teamID, UserID: req.UserID, Role: req.Role}
	if err := gormDB.Create(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			helpers.RespondWithError(c, http.StatusConflict, "User is already a member of this team.")
			return
		}
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to add team member.")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"member": member})
}

func ListTeamMembers(c *gin.Context) {
	teamID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid team ID format")
		return
	}

	gormDB := middleware.GetDB(c)

	var team models.Team
	if err := gormDB.First(&team, teamID).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "Team not found.")
		return
	}

	var members []models.TeamMember
	if err := gormDB.Where("team_id = ?", teamID).Find(&members).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving team members.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

func DeleteTeam(c *gin.Context) {
	teamID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid team ID format")
		return
	}

	callerID, _ := middleware.CurrentUserID(c)
	gormDB := middleware.GetDB(c)

	if !hasTeamRole(gormDB, teamID, callerID, models.TeamRoleAdmin) {
		helpers.RespondWithError(c, http.StatusForbidden, "Only team admins can delete the team")
		return
	}

	result := gormDB.Delete(&models.Team{}, teamID)
	if result.Error != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to delete team.")
		return
	}
	if result.RowsAffected == 0 {
		helpers.RespondWithError(c, http.StatusNotFound, "Team not found.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Team deleted successfully."})
}

// hasTeamRole checks team membership with at least the given role
// (team_admin covers everything).
func hasTeamRole(db *gorm.DB, teamID, userID uint, role string) bool {
	var member models.TeamMember
	err := db.Where("team_id = ? AND user_id = ?", teamID, userID).First(&member).Error
	if err != nil {
		return false
	}
	if member.Role == models.TeamRoleAdmin {
		return true
	}
	return member.Role == role
}

// teamMembership fetches the caller's membership row for authorization
// decisions; nil when not a member.
func teamMembership(db *gorm.DB, teamID, userID uint) *models.TeamMember {
	var member models.TeamMember
	if err := db.Where("team_id = ? AND user_id = ?", teamID, userID).First(&member).Error; err != nil {
		return nil
	}
	return &member
}
