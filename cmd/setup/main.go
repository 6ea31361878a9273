package main

import (
	"context"
	"flag"
	"fmt"

	"supplychain-tracker-go/internal/access"
	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/common"
	"supplychain-tracker-go/internal/config"
	"supplychain-tracker-go/internal/models"

	"go.uber.org/zap"
)

type seedStats struct {
	created    int
	existing   int
	authorized int
	failed     []string
}

// seedUser registers a user from the seed file. An existing email is not an error.
func seedUser(ctx context.Context, services *common.Services, seed common.UserSeed) (*models.User, bool, error) {
	user, _, err := services.Gate.Register(ctx, access.RegisterParams{
		Name:          seed.Name,
		Email:         seed.Email,
		Password:      seed.Password,
		WalletAddress: seed.WalletAddress,
		Role:          seed.Role,
		CompanyName:   seed.CompanyName,
	})
	if err == nil {
		return user, true, nil
	}
	if !apperr.Is(err, apperr.KindConflict) {
		return nil, false, err
	}

	zap.L().Info("User already exists", zap.String("email", seed.Email))
	existing, lookupErr := services.DbService.GetUserByEmail(ctx, seed.Email)
	if lookupErr != nil {
		// the wallet is registered under another email
		return nil, false, err
	}
	return existing, false, nil
}

func authorizeSeed(ctx context.Context, services *common.Services, user *models.User) error {
	if !services.Engine.ChainConfigured() {
		zap.L().Warn("Registry not configured, skipping authorization", zap.String("email", user.Email))
		return nil
	}

	authorized, err := services.Registry.IsAuthorizedManufacturer(ctx, user.WalletAddress)
	if err != nil {
		return fmt.Errorf("error checking authorization: %w", err)
	}
	if authorized {
		zap.L().Info("Manufacturer already authorized",
			zap.String("email", user.Email),
			zap.String("wallet", user.WalletAddress))
		return nil
	}

	_, receipt, err := services.Engine.AuthorizeManufacturer(ctx, user, "")
	if err != nil {
		return err
	}
	fmt.Printf("  ✓ authorized %s (tx %s)\n", common.ShortAddress(user.WalletAddress), common.ShortAddress(receipt.TxHash))
	return nil
}

func seedUsers(ctx context.Context, services *common.Services, seedFile string) seedStats {
	zap.L().Info("Loading user seeds", zap.String("file", seedFile))
	seeds, err := common.LoadUserSeeds(seedFile)
	if err != nil {
		zap.L().Fatal("Failed to load user seeds", zap.Error(err))
	}
	zap.L().Info("User seeds loaded", zap.Int("count", len(seeds)))

	var stats seedStats
	for _, seed := range seeds {
		user, created, err := seedUser(ctx, services, seed)
		if err != nil {
			zap.L().Error("Failed to seed user",
				zap.String("email", seed.Email),
				zap.Error(err))
			fmt.Printf("✗ %s: %v\n", seed.Email, err)
			stats.failed = append(stats.failed, seed.Email)
			continue
		}

		if created {
			stats.created++
			fmt.Printf("✓ %s (%s) created\n", user.Email, user.Role)
		} else {
			stats.existing++
			fmt.Printf("✓ %s (%s) already exists\n", user.Email, user.Role)
		}

		if !seed.Authorize {
			continue
		}
		if err := authorizeSeed(ctx, services, user); err != nil {
			zap.L().Error("Failed to authorize manufacturer",
				zap.String("email", user.Email),
				zap.Error(err))
			stats.failed = append(stats.failed, fmt.Sprintf("%s/authorize", seed.Email))
			continue
		}
		stats.authorized++
	}
	return stats
}

func printUsers(ctx context.Context, services *common.Services) {
	users, err := common.InitializeUsers(ctx, services.DbService, "", zap.L())
	if err != nil {
		zap.L().Fatal("Failed to read users from database", zap.Error(err))
	}

	common.PrintHeader("REGISTERED USERS", common.WideWidth)
	for i, user := range users {
		isLast := i == len(users)-1
		fmt.Printf("%s%-14s %-32s %s\n", common.BoxPrefix(isLast), user.Role, user.Email, user.WalletAddress)
		fmt.Printf("%s  id %s  %s\n", common.BoxDetailPrefix(isLast), common.ShortId(user.Id), user.Name)
	}
	common.PrintSeparator("=", common.WideWidth)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	seedFlag := flag.String("users", "", "Path to the user seed file (default: SEED_USERS_FILE or users.yaml)")
	listOnly := flag.Bool("list", false, "Only list registered users")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *listOnly {
		printUsers(ctx, services)
		return
	}

	seedFile := *seedFlag
	if seedFile == "" {
		seedFile = cfg.Seed.UsersFile
	}

	stats := seedUsers(ctx, services, seedFile)

	fmt.Println()
	common.PrintHeader("SEED SUMMARY", common.DefaultWidth)
	fmt.Printf("Created:           %d\n", stats.created)
	fmt.Printf("Already existing:  %d\n", stats.existing)
	fmt.Printf("Authorized:        %d\n", stats.authorized)
	fmt.Printf("Failed:            %d\n", len(stats.failed))
	common.PrintSeparator("=", common.DefaultWidth)

	if len(stats.failed) > 0 {
		zap.L().Warn("Setup completed with some failures", zap.Strings("failed", stats.failed))
	} else {
		zap.L().Info("Setup completed successfully")
	}

	printUsers(ctx, services)
}
