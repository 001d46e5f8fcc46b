package server

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/markw53/mt-api/config"
	"github.com/markw53/mt-api/internal/handlers"
	"github.com/markw53/mt-api/internal/middleware"
	"github.com/markw53/mt-api/internal/notify"
	"github.com/markw53/mt-api/internal/payments"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func Start() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	db, err := config.InitDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %v", err)
	}

	r := gin.Default()

	setupRoutes(r, db, cfg)

	zap.L().Info("server listening", zap.String("port", cfg.Port))
	return r.Run(":" + cfg.Port)
}

func setupRoutes(r *gin.Engine, db *gorm.DB, cfg *config.Config) {
	stripe := payments.NewClient(cfg.Stripe)
	mailer := notify.NewSendGridMailer(cfg.SendGrid, zap.L())

	r.Use(middleware.DatabaseMiddleware(db))
	r.Use(middleware.ConfigMiddleware(cfg))
	r.Use(middleware.StripeMiddleware(stripe))
	r.Use(middleware.MailerMiddleware(mailer))

	public := r.Group("/api")
	{
		auth := public.Group("/auth")
		{
			auth.POST("/register", handlers.Register)
			auth.POST("/login", handlers.Login)
		}

		events := public.Group("/events")
		{
			events.GET("", handlers.ListEvents)
			events.GET("/past", handlers.ListPastEvents)
			events.GET("/categories", handlers.ListCategories)
			events.GET("/:id", handlers.GetEvent)
			events.GET("/:id/availability", handlers.CheckAvailability)
		}

		// Stripe calls this directly; authentication is the signature header.
		public.POST("/stripe/webhook", handlers.HandleStripeWebhook)
	}

	protected := r.Group("/api")
	protected.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	{
		users := protected.Group("/users")
		{
			users.GET("/me", handlers.GetMe)
			users.GET("/:id", handlers.GetUser)
			users.PATCH("/:id", handlers.UpdateUser)
		}

		teams := protected.Group("/teams")
		{
			teams.POST("", handlers.CreateTeam)
			teams.GET("", handlers.ListTeams)
			teams.GET("/:id", handlers.GetTeam)
			teams.DELETE("/:id", handlers.DeleteTeam)
			teams.POST("/:id/members", handlers.AddTeamMember)
			teams.GET("/:id/members", handlers.ListTeamMembers)
		}

		events := protected.Group("/events")
		{
			events.POST("", handlers.CreateEvent)
			events.PATCH("/:id", handlers.UpdateEvent)
			events.DELETE("/:id", handlers.DeleteEvent)
			events.POST("/:id/register", handlers.RegisterForEvent)
			events.GET("/:id/registrations", handlers.ListEventRegistrations)
		}

		registrations := protected.Group("/registrations")
		{
			registrations.PATCH("/:id/cancel", handlers.CancelRegistration)
		}

		tickets := protected.Group("/tickets")
		{
			tickets.GET("/user/:userId", handlers.GetUserTickets)
			tickets.GET("/event/:eventId", handlers.GetEventTickets)
			tickets.GET("/verify/:code", handlers.VerifyTicket)
			tickets.POST("/use/:code", handlers.UseTicket)
			tickets.GET("/:id/qr", handlers.GenerateTicketQR)
		}

		stripeRoutes := protected.Group("/stripe")
		{
			stripeRoutes.POST("/create-checkout-session", handlers.CreateCheckoutSession)
			stripeRoutes.POST("/sync-payment/:sessionId", handlers.SyncPayment)
			stripeRoutes.GET("/payment-status/:sessionId", handlers.GetPaymentStatus)
			stripeRoutes.GET("/payments/:userId", handlers.GetUserPayments)
		}
	}
}
