package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"regexp"
	"strconv"
	"time"

	"resv/src/boot"
	"resv/src/common"
	"resv/src/config"
	"resv/src/lib"
	"resv/src/middlewares"
	"resv/src/models"
	"resv/src/payments"
	"resv/src/types"

	"github.com/covalenthq/lumberjack"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	_ "github.com/joho/godotenv/autoload"
)

const (
	apiPrefix string = "/api/v1"
)

var futureDateValidatorFunc validator.Func = func(fl validator.FieldLevel) bool {
	date, ok := fl.Field().Interface().(string)
	datetime, err := time.Parse(config.TIME_PARSE_FORMAT, date)
	if err != nil {
		return false
	}
	if ok {
		today := time.Now()
		if today.After(datetime) {
			return false
		}
	}
	return true
}

var gtfield validator.Func = func(fl validator.FieldLevel) bool {
	date, ok := fl.Field().Interface().(string)
	datetime, err := time.Parse(config.TIME_PARSE_FORMAT, date)
	if err != nil {
		return false
	}
	field := fl.Parent().FieldByName(fl.Param())
	fieldValue := field.Interface().(string)
	fielddatetime, err := time.Parse(config.TIME_PARSE_FORMAT, fieldValue)
	if err != nil {
		return false
	}
	if ok {
		if fielddatetime.After(datetime) {
			return false
		}
	}
	return true
}

func setupRouter() *gin.Engine {
	router := gin.Default()
	router.Use(middlewares.SecureHeaders)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	return router
}

func maintenanceModeMiddleware(g *gin.Engine) *gin.Engine {
	g.Use(func(ctx *gin.Context) {
		mm := os.Getenv("MAINTENANCE_MODE")
		atoi, err := strconv.ParseBool(mm)
		if err == nil && atoi {
			log.Println("server is under maintenance")
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, "server is under maintenance")
			return
		}
	})
	return g
}

func apiv1Group(g *gin.Engine) *gin.RouterGroup {
	apiv1 := g.Group(apiPrefix)
	return apiv1
}

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("futuredate", futureDateValidatorFunc)
		v.RegisterValidation("gtdate", gtfield)
	}
}

// scheduleExpiryNudge registers a one-shot trigger at the reservation's
// deadline. The sweeper is the safety net; this only cuts expiry latency.
func scheduleExpiryNudge(sweeper *common.Sweeper) func(r *models.Reservation) {
	localHandler := func(p types.JSONB) {
		if _, err := sweeper.SweepExpired(context.Background()); err != nil {
			log.Printf("Error on nudged sweep: %s\n", err.Error())
		}
	}
	return func(r *models.Reservation) {
		go func() {
			vars := map[string]string{
				"name":  r.ID.String(),
				"topic": common.QUEUE_RESERVATIONS_TO_EXPIRE,
			}
			payload := types.JSONB{"reservation_id": r.ID.String()}
			if _, err := lib.NewScheduledJob(r.ExpiresAt, vars, payload, localHandler); err != nil {
				log.Printf("Error scheduling expiry for %s: %s\n", r.ID, err.Error())
			}
		}()
	}
}

func initLogger() {
	cwd, _ := os.Getwd()
	serverLogs := path.Join(cwd, "logs", "server.log")
	apiLogs := path.Join(cwd, "logs", "api.log")
	gin.ForceConsoleColor()

	f, _ := os.Create(apiLogs)
	gin.DefaultWriter = io.MultiWriter(f, os.Stdout)
	log.SetOutput(&lumberjack.Logger{
		Filename:   serverLogs,
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	})
}

func main() {
	apiEnv := os.Getenv("API_ENV")
	if apiEnv == "local" {
		cwd, _ := os.Getwd()
		if err := godotenv.Load(path.Join(cwd, ".env")); err != nil {
			panic(err)
		}
	}
	initLogger()

	gdb := boot.InitDb()

	store := common.NewGormStore(gdb)
	ledger := common.NewGormLedger(gdb)
	partners := common.NewGormPartnerDirectory(gdb, lib.GetRedisClient())
	gateway := payments.NewStripeGateway(lib.GetStripeClient())

	var notifier lib.Notifier
	switch os.Getenv("NOTIFY_CHANNEL") {
	case "sns":
		notifier = lib.NewSNSNotifier()
	case "smtp":
		notifier = lib.NewMailNotifier()
	default:
		notifier = &lib.LogNotifier{}
	}

	saga := common.NewCaptureSaga(store, gateway)
	saga.Events = &lib.KafkaEventPublisher{ClientID: "ReservationsProducer"}
	saga.Escalator = common.NewSQSEscalator()
	saga.Notifier = notifier

	machine := common.NewReservationMachine(store, gateway, saga)
	machine.Notifier = saga.Notifier

	sweeper := common.NewSweeper(store, machine)
	machine.ScheduleExpiry = scheduleExpiryNudge(sweeper)

	processor := common.NewWebhookProcessor(store, ledger, gateway, saga)

	boot.InitScheduler(sweeper, config.SweepInterval())
	go boot.InitBroker(store, gateway, sweeper)

	router := setupRouter()

	appHost := os.Getenv("APP_HOST")
	if apiEnv == "local" {
		router.Use(cors.Default())
	} else {
		cc := cors.DefaultConfig()
		cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "HEAD")
		cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "X-Api-Key")
		cc.AllowOriginFunc = func(origin string) bool {
			match, _ := regexp.MatchString(appHost, origin)
			return match
		}
		cc.AllowCredentials = true
		cc.AllowAllOrigins = false
		router.Use(cors.New(cc))
	}

	registerValidators()

	router = maintenanceModeMiddleware(router)

	paymentsWebhookRoute(router, processor)

	authorized := router.Group(apiPrefix)
	authorized.Use(middlewares.PartnerAuth(partners))
	{
		reservationHandlers(authorized, machine, store)
	}

	defer boot.StopScheduler()
	if err := router.Run(":9090"); err != nil {
		log.Fatalf("Failed to start server: %s", err)
	}
}
