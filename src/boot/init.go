package boot

import (
	"context"
	"log"
	"time"

	"resv/src/common"
	"resv/src/db"
	"resv/src/lib"
	"resv/src/models"
	"resv/src/payments"

	"gorm.io/gorm"
)

func InitDb() *gorm.DB {
	db := db.GetDb()

	err := db.AutoMigrate(
		&models.Partner{},
		&models.Reservation{},
		&models.StateTransition{},
		&models.Booking{},
		&models.ProcessedWebhookEvent{},
		&models.CompensationRecord{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	return db
}

// InitScheduler registers the recurring expiry sweep and starts the job
// runner. One-shot expiry nudges land on the same scheduler instance.
func InitScheduler(sweeper *common.Sweeper, interval time.Duration) {
	id, err := lib.CreateCronJob(func() {
		if _, err := sweeper.SweepExpired(context.Background()); err != nil {
			log.Printf("Error on sweep: %s\n", err.Error())
		}
	}, interval)
	if err != nil {
		log.Printf("Error running job: %s\n", err.Error())
		return
	}
	log.Printf("Sweep job registered: %s every %s\n", *id, interval)
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	sched.Start()
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	err = sched.Shutdown()
	if err != nil {
		log.Println("An error has occurred while stopping Scheduler. Check logs for info")
		return
	}
}

// InitBroker starts the async side: the broker topics the saga publishes
// to, the compensation review consumer, and the expiry nudge consumer.
func InitBroker(store common.ReservationStore, gateway payments.Gateway, sweeper *common.Sweeper) {
	go lib.KafkaCreateTopics(lib.TOPIC_RESERVATIONS_CONFIRMED, lib.TOPIC_RESERVATIONS_COMPENSATED)
	common.NewCompensationReviewConsumer(store, gateway).Listen()
	common.NewExpiryNudgeConsumer(sweeper).Listen()
}
