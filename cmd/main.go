package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"partyledger/internal/api"
	"partyledger/internal/authority"
	"partyledger/internal/config"
	"partyledger/internal/currency"
	"partyledger/internal/hub"
	"partyledger/internal/inventory"
	"partyledger/internal/logger"
	"partyledger/internal/models"
	"partyledger/internal/protocol"
	"partyledger/internal/restock"
	"partyledger/internal/rolltable"
	"partyledger/internal/service"
	"partyledger/internal/store"
	"partyledger/pkg"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger := logger.NewLogger()
	defer func(l *zap.Logger) {
		_ = l.Sync()
	}(zapLogger)
	appLogger := pkg.NewZapLogger(zapLogger)

	var st store.Store
	var authStore store.AuthStore
	switch cfg.StoreBackend {
	case "postgres":
		dbConn, err := store.Connect(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer dbConn.Close()
		store.Migrate(dbConn, "migrations")
		pg := store.NewPostgresStore(dbConn)
		st = pg
		authStore = pg.(store.AuthStore)
	default:
		mem := store.NewMemoryStore()
		seedDemoWorld(mem)
		st = mem
		authStore = mem
	}

	tables, items := demoCatalog()
	locks := store.NewContainerLocks()

	h := hub.New(appLogger)
	processor := authority.NewProcessor(st, h, h, locks, appLogger)
	h.SetHandler(func(p protocol.Packet) {
		processor.Handle(context.Background(), p)
	})

	engine := restock.NewEngine(st, tables, items, locks, appLogger, rand.NewSource(time.Now().UnixNano()))
	authService := service.NewAuthService(authStore, appLogger, cfg.JWTSecret)

	e := echo.New()
	e.Use(logger.RequestLogger(zapLogger))

	handlers := &api.Handlers{
		AuthService: authService,
		Hub:         h,
		Restock:     engine,
		Logger:      appLogger,
		JWTSecret:   cfg.JWTSecret,
	}
	api.RegisterHandlers(e, handlers)

	port := fmt.Sprintf(":%s", cfg.ServerPort)
	appLogger.Info("Starting server", zap.String("port", cfg.ServerPort))
	if err := e.Start(port); err != nil {
		appLogger.Error("Failed to run server", zap.Error(err))
	}
}

// demoCatalog is the built-in item and table set used until a campaign
// loads its own.
func demoCatalog() (rolltable.Provider, rolltable.ItemResolver) {
	tables := rolltable.StaticProvider{
		"general-goods": {
			Name: "general-goods",
			Entries: []rolltable.Entry{
				{ItemRef: "healing-potion", Weight: 5},
				{ItemRef: "rope", Weight: 3},
				{ItemRef: "srd.dagger", Weight: 2},
			},
		},
		"scroll-rack": {
			Name: "scroll-rack",
			Entries: []rolltable.Entry{
				{ItemRef: "spell-fireball", Weight: 1},
				{ItemRef: "spell-shield", Weight: 2},
			},
		},
	}
	items := &rolltable.Registry{
		Items: map[string]*rolltable.ItemDefinition{
			"healing-potion": {ID: "healing-potion", Name: "Healing Potion", Type: "consumable",
				Price: currency.Price{Amount: 50, Denomination: currency.Gold}, Weight: 0.5},
			"rope": {ID: "rope", Name: "Rope (50 ft)", Type: "gear",
				Price: currency.Price{Amount: 1, Denomination: currency.Gold}, Weight: 10},
			"spell-fireball": {ID: "spell-fireball", Name: "Fireball", Type: "spell",
				Price: currency.Price{Amount: 150, Denomination: currency.Gold}},
			"spell-shield": {ID: "spell-shield", Name: "Shield", Type: "spell",
				Price: currency.Price{Amount: 25, Denomination: currency.Gold}},
		},
		Compendia: map[string]map[string]*rolltable.ItemDefinition{
			"srd": {
				"dagger": {ID: "dagger", Name: "Dagger", Type: "weapon",
					Price: currency.Price{Amount: 2, Denomination: currency.Gold}, Weight: 1},
			},
		},
	}
	return tables, items
}

// seedDemoWorld fills the in-memory store with a small playable scene.
func seedDemoWorld(mem *store.MemoryStore) {
	mem.PutParticipant(models.Participant{
		ID: "gm", Name: "keeper", ActorID: "actor-gm", Scene: "town", GM: true,
	}, "keeper")
	mem.PutParticipant(models.Participant{
		ID: "p1", Name: "ash", ActorID: "actor-ash", Scene: "town",
	}, "ash")
	mem.PutParticipant(models.Participant{
		ID: "p2", Name: "brin", ActorID: "actor-brin", Scene: "town",
	}, "brin")

	mem.PutContainer(&models.Container{
		ID: "general-store", Name: "General Store", Scene: "town",
		PriceModifier: 1.2, RolltableName: "general-goods",
		ShopQtyFormula: "2d4", ItemQtyFormula: "1d6", ItemQtyCap: 10,
		Permissions: map[string]models.Permission{
			"p1": models.PermissionObserver,
			"p2": models.PermissionObserver,
		},
	})
	mem.PutContainer(&models.Container{
		ID: "town-chest", Name: "Town Chest", Scene: "town",
		PriceModifier: 1, RolltableName: "scroll-rack",
		ShopQtyFormula: "1d3", ItemQtyFormula: "1", ClearFirst: true, UniqueOnly: true,
		Permissions: map[string]models.Permission{
			"p1": models.PermissionOwner,
			"p2": models.PermissionObserver,
		},
	})

	mem.PutLedger("actor-ash", currency.Ledger{currency.Gold: 25, currency.Silver: 14})
	mem.PutLedger("actor-brin", currency.Ledger{currency.Gold: 8, currency.Copper: 120})
	mem.PutLedger("town-chest", currency.Ledger{currency.Gold: 10, currency.Silver: 5})

	mem.PutStacks("general-store", []inventory.Stack{
		{ID: "stock-potion", Name: "Healing Potion", Quantity: 4,
			Price: currency.Price{Amount: 50, Denomination: currency.Gold}, Weight: 0.5},
		{ID: "stock-rope", Name: "Rope (50 ft)", Quantity: 2,
			Price: currency.Price{Amount: 1, Denomination: currency.Gold}, Weight: 10},
	})
	mem.PutStacks("town-chest", []inventory.Stack{
		{ID: "chest-dagger", Name: "Dagger", Quantity: 1,
			Price: currency.Price{Amount: 2, Denomination: currency.Gold}, Weight: 1},
	})
}
