/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

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

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	nameFlag := flag.String("name", "", "User's full name (required)")
	emailFlag := flag.String("email", "", "User's email address (required)")
	passwordFlag := flag.String("password", "", "User's password (required)")
	walletFlag := flag.String("wallet", "", "User's wallet address (required)")
	roleFlag := flag.String("role", string(models.RoleRetailer), "manufacturer, distributor, warehouse or retailer")
	companyFlag := flag.String("company", "", "Company name")
	authorizeFlag := flag.Bool("authorize", false, "Authorize the wallet as a manufacturer on the registry")
	flag.Parse()

	if *nameFlag == "" || *emailFlag == "" || *passwordFlag == "" || *walletFlag == "" {
		zap.L().Fatal("Required flags: --name, --email, --password and --wallet")
	}

	zap.L().Info("Starting user creation process",
		zap.String("name", *nameFlag),
		zap.String("email", *emailFlag),
		zap.String("role", *roleFlag))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	user, token, err := services.Gate.Register(ctx, access.RegisterParams{
		Name:          *nameFlag,
		Email:         *emailFlag,
		Password:      *passwordFlag,
		WalletAddress: *walletFlag,
		Role:          models.Role(*roleFlag),
		CompanyName:   *companyFlag,
	})
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindConflict, apperr.KindValidation:
			zap.L().Fatal("Unable to register user", zap.String("email", *emailFlag), zap.Error(err))
		}
		zap.L().Fatal("Failed to create user", zap.Error(err))
	}

	fmt.Println()
	common.PrintHeader("USER CREATED", common.DefaultWidth)
	fmt.Printf("ID:      %s\n", user.Id)
	fmt.Printf("Name:    %s\n", user.Name)
	fmt.Printf("Email:   %s\n", user.Email)
	fmt.Printf("Role:    %s\n", user.Role)
	fmt.Printf("Wallet:  %s\n", user.WalletAddress)
	fmt.Printf("Token:   %s\n", token)
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	zap.L().Info("User created successfully", zap.String("id", user.Id))

	if !*authorizeFlag {
		return
	}
	if !services.Engine.ChainConfigured() {
		fmt.Println("Registry not configured; set CHAIN_RPC_URL and CHAIN_CONTRACT_ADDRESS to authorize")
		return
	}

	address, receipt, err := services.Engine.AuthorizeManufacturer(ctx, user, "")
	if err != nil {
		zap.L().Fatal("User created but authorization failed",
			zap.String("user_id", user.Id),
			zap.Error(err))
	}
	fmt.Printf("Authorized %s on the registry (tx %s, fee %s)\n", address, receipt.TxHash, receipt.Fee.String())
}
