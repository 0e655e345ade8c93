package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-progress-api/internal/middleware"
	"github.com/noah-isme/sma-progress-api/internal/models"
	"github.com/noah-isme/sma-progress-api/internal/service"
	"github.com/noah-isme/sma-progress-api/pkg/config"
	"github.com/noah-isme/sma-progress-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-progress-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-progress-api/pkg/middleware/requestid"
)

// Handlers groups every HTTP handler mounted by Setup.
type Handlers struct {
	Records  *handler.RecordHandler
	Stats    *handler.StatsHandler
	Live     *handler.LiveHandler
	Students *handler.StudentHandler
	Courses  *handler.CourseHandler
	Users    *handler.UserHandler
	Exports  *handler.ExportHandler
	Metrics  *handler.MetricsHandler
}

// Deps carries the cross-cutting pieces the routes need besides handlers.
type Deps struct {
	Auth        *service.AuthService
	Metrics     *service.MetricsService
	RateLimiter *internalmiddleware.RateLimiter
	Logger      *zap.Logger
}

// Setup builds the gin engine with every route of the API.
func Setup(cfg *config.Config, h Handlers, deps Deps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(log))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(internalmiddleware.Metrics(deps.Metrics))
	}
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := internalmiddleware.RequireRoles(models.RoleAdmin)
	staff := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	parent := internalmiddleware.RequireRoles(models.RoleParent)
	audit := func(action, resource string) gin.HandlerFunc {
		return internalmiddleware.Audit(log, action, resource)
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(deps.Auth))
	if deps.RateLimiter != nil {
		api.Use(deps.RateLimiter.Middleware())
	}

	api.GET("/me", h.Users.Me)
	api.GET("/me/students", parent, h.Students.MyChildren)
	api.GET("/me/courses", staff, h.Courses.Dashboard)

	records := api.Group("/records")
	{
		records.GET("", h.Records.List)
		records.GET("/:id", h.Records.Get)
		records.POST("", staff, audit("create", "record"), h.Records.Create)
		records.POST("/bulk", staff, audit("bulk_create", "record"), h.Records.Bulk)
		records.PATCH("/:id", staff, audit("update", "record"), h.Records.Update)
		records.DELETE("/:id", staff, audit("delete", "record"), h.Records.Delete)
	}

	stats := api.Group("/stats")
	{
		stats.GET("/global", staff, h.Stats.Global)
		stats.GET("/courses/:id", h.Stats.Course)
		stats.GET("/students/:id", h.Stats.Student)
		stats.GET("/compare", h.Stats.Compare)
		stats.GET("/trend", h.Stats.Trend)
	}

	api.GET("/live/stats", h.Live.Stats)

	students := api.Group("/students")
	{
		students.GET("", staff, h.Students.List)
		students.POST("", admin, audit("create", "student"), h.Students.Create)
		students.POST("/import", admin, audit("import", "student"), h.Students.Import)
		students.GET("/:id", h.Students.Get)
		students.PUT("/:id", admin, audit("update", "student"), h.Students.Update)
		students.DELETE("/:id", admin, audit("delete", "student"), h.Students.Delete)
		students.GET("/:id/summary", h.Students.Summary)
		students.GET("/:id/report", h.Exports.StudentReport)
		students.POST("/:id/courses/:courseId", admin, audit("enrol", "student"), h.Students.Enrol)
		students.DELETE("/:id/courses/:courseId", admin, audit("unenrol", "student"), h.Students.Unenrol)
	}

	courses := api.Group("/courses")
	{
		courses.GET("", staff, h.Courses.List)
		courses.GET("/:id", h.Courses.Get)
		courses.POST("", admin, audit("create", "course"), h.Courses.Create)
		courses.PUT("/:id", admin, audit("update", "course"), h.Courses.Update)
		courses.DELETE("/:id", admin, audit("delete", "course"), h.Courses.Delete)
	}

	users := api.Group("/users", admin)
	{
		users.GET("", h.Users.List)
		users.GET("/:id", h.Users.Get)
		users.PUT("/:id", audit("update", "user"), h.Users.Update)
		users.DELETE("/:id", audit("delete", "user"), h.Users.Delete)
	}

	adminGroup := api.Group("/admin", admin)
	{
		adminGroup.GET("/metrics", h.Metrics.Snapshot)
		adminGroup.POST("/cache/flush", audit("flush", "stats_cache"), h.Stats.Flush)
	}

	return r
}
