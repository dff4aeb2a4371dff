package main // Entry point package

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-slot-reservation/internal/admission"
	"github.com/iliyamo/event-slot-reservation/internal/config"
	"github.com/iliyamo/event-slot-reservation/internal/database"
	"github.com/iliyamo/event-slot-reservation/internal/handler"
	"github.com/iliyamo/event-slot-reservation/internal/queue"
	"github.com/iliyamo/event-slot-reservation/internal/repository"
	"github.com/iliyamo/event-slot-reservation/internal/router"
	"github.com/iliyamo/event-slot-reservation/internal/service"
	"github.com/iliyamo/event-slot-reservation/internal/stock"
)

func main() {
	_ = godotenv.Load() // best effort; real deployments set the environment directly

	cfg := config.Load()
	admCfg := config.LoadAdmissionConfig()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	// Redis is mandatory for the reservation core: stock accounting and
	// admission cannot run without it.  Rate limiting and caching would
	// degrade gracefully, but there is no point starting a reservation
	// service that cannot reserve.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Fatal("redis: connection failed")
	}

	eventRepo := repository.NewEventRepo(db)
	slotRepo := repository.NewSlotRepo(db)
	reservationRepo := repository.NewReservationRepo(db)

	stockStore := stock.NewStore(rdb)
	if err := service.WarmStock(context.Background(), slotRepo, stockStore); err != nil {
		log.Fatalf("stock warmup: %v", err)
	}

	admQueue := admission.NewQueue(rdb, admCfg.TokenSecret, admCfg.TokenTTL, admCfg.HeartbeatTTL, admCfg.ConcurrencyBudget)
	ledger := service.NewSQLLedger(reservationRepo, slotRepo)
	coordinator := service.NewCoordinator(admQueue, stockStore, ledger, slotRepo, eventRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go admission.NewPromoter(admQueue, eventRepo, admCfg.PromoteInterval).Run(ctx)
	go service.NewReconciler(slotRepo, reservationRepo, stockStore, admCfg.ReconcileInterval).Run(ctx)
	go func() {
		if err := queue.StartReservationConsumer(ctx); err != nil {
			log.Printf("reservation consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAPI(e,
		handler.NewAdmissionHandler(admQueue),
		handler.NewReservationHandler(coordinator, reservationRepo, slotRepo, eventRepo),
		handler.NewBrowseHandler(eventRepo, slotRepo, stockStore),
		rdb,
	)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
