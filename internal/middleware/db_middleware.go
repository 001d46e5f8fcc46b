package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/markw53/mt-api/config"
	"github.com/markw53/mt-api/internal/notify"
	"github.com/markw53/mt-api/internal/payments"
	"gorm.io/gorm"
)

func DatabaseMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("db", db)
		c.Next()
	}
}

func GetDB(c *gin.Context) *gorm.DB {
	db, exists := c.Get("db")
	if !exists {
		return nil
	}
	return db.(*gorm.DB)
}

func ConfigMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("config", cfg)
		c.Next()
	}
}

func GetConfig(c *gin.Context) *config.Config {
	cfg, exists := c.Get("config")
	if !exists {
		return nil
	}
	return cfg.(*config.Config)
}

func StripeMiddleware(client *payments.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("stripe_client", client)
		c.Next()
	}
}

func GetStripeClient(c *gin.Context) *payments.Client {
	client, exists := c.Get("stripe_client")
	if !exists {
		return nil
	}
	return client.(*payments.Client)
}

func MailerMiddleware(mailer notify.Mailer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("mailer", mailer)
		c.Next()
	}
}

func GetMailer(c *gin.Context) notify.Mailer {
	mailer, exists := c.Get("mailer")
	if !exists {
		return nil
	}
	return mailer.(notify.Mailer)
}
