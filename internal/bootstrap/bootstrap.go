package bootstrap

import (
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"momopay-service/internal/config"
	"momopay-service/internal/database"
	"momopay-service/internal/hubtel"
	"momopay-service/internal/ledger"
	"momopay-service/internal/logging"
	"momopay-service/internal/otp"
	"momopay-service/internal/reconcile"
	"momopay-service/internal/services"
	"momopay-service/internal/sms"
	"momopay-service/internal/store"
	"momopay-service/internal/worker"
)

// App holds the wired components shared by the API and worker processes.
type App struct {
	Config     config.Config
	Logger     *logrus.Logger
	DB         *gorm.DB
	Store      store.Store
	Queue      *asynq.Client
	Dispatcher services.Dispatcher
	Payments   *services.PaymentService
	Sweep      *services.SweepService
}

// New wires the service graph. With the memory store there is no queue:
// notifications are sent in-process and the sweep is disabled, since a
// separate worker could not see the same data.
func New(cfg config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	switch cfg.Database.Driver {
	case "memory":
		a.Store = store.NewMemoryStore()
		logger.Warn("using in-memory store, data is lost on restart")
	default:
		db, err := database.Connect(cfg.Database, logging.Component(logger, "database"))
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := database.AutoMigrate(db); err != nil {
				return nil, err
			}
		}
		a.DB = db
		a.Store = store.NewGormStore(db)

		a.Queue = asynq.NewClient(a.RedisOpt())
		a.Dispatcher = worker.NewDispatcher(a.Queue)
	}

	l := ledger.New(a.Store, logging.Component(logger, "ledger"))
	m := otp.NewManager(cfg.OTP, logging.Component(logger, "otp"))
	engine := reconcile.NewEngine(a.Store, l, m, logging.Component(logger, "reconcile"))
	gateway := hubtel.NewClient(cfg.Gateway, logging.Component(logger, "hubtel"))
	sender := sms.NewArkeselClient(cfg.SMS, logging.Component(logger, "sms"))
	notifier := services.NewNotificationService(sender, a.Dispatcher, logging.Component(logger, "notification"))

	a.Payments = services.NewPaymentService(a.Store, l, engine, m, gateway, notifier, logging.Component(logger, "payments"))
	if a.Dispatcher != nil {
		a.Sweep = services.NewSweepService(a.Store, a.Dispatcher, cfg.Reconcile, logging.Component(logger, "sweep"))
	}
	return a, nil
}

func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.WithError(err).Warn("closing queue client")
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
