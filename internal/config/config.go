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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"supplychain-tracker-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	confirmTimeout, err := getEnvDuration("CHAIN_CONFIRM_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, err
	}

	callTimeout, err := getEnvDuration("CHAIN_CALL_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	tokenTTL, err := getEnvDuration("JWT_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pollingInterval, err := getEnvDuration("DEFECT_POLLING_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	retryBackoff, err := getEnvDuration("DEFECT_RETRY_BACKOFF", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	redisDialTimeout, err := getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	chainId, err := getEnvInt64("CHAIN_ID", 31337)
	if err != nil {
		return nil, err
	}

	jwtSecret := getEnvString("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "supplychain.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Chain: models.ChainConfig{
			RpcUrl:          getEnvString("CHAIN_RPC_URL", ""),
			ContractAddress: getEnvString("CHAIN_CONTRACT_ADDRESS", ""),
			PrivateKey:      strings.TrimPrefix(getEnvString("CHAIN_PRIVATE_KEY", ""), "0x"),
			ChainId:         chainId,
			ConfirmTimeout:  confirmTimeout,
			CallTimeout:     callTimeout,
		},
		Server: models.ServerConfig{
			Addr:             getEnvString("SERVER_ADDR", ":5000"),
			FrontendUrl:      strings.TrimRight(getEnvString("FRONTEND_URL", "http://localhost:5173"), "/"),
			CorsOrigins:      getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),
			ProductListLimit: getEnvInt("PRODUCT_LIST_LIMIT", 500),
			ShutdownTimeout:  shutdownTimeout,
		},
		Auth: models.AuthConfig{
			JwtSecret:  jwtSecret,
			TokenTTL:   tokenTTL,
			BcryptCost: getEnvInt("BCRYPT_COST", 10),
		},
		Listener: models.ListenerConfig{
			PollingInterval: pollingInterval,
			MaxAttempts:     getEnvInt("DEFECT_MAX_ATTEMPTS", 10),
			BatchSize:       getEnvInt("DEFECT_BATCH_SIZE", 50),
			RetryBackoff:    retryBackoff,
		},
		Redis: models.RedisConfig{
			Addr:        getEnvString("REDIS_ADDR", ""),
			Password:    getEnvString("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			Channel:     getEnvString("REDIS_CHANNEL", "supplychain.events"),
			DialTimeout: redisDialTimeout,
		},
		Seed: models.SeedConfig{
			UsersFile: getEnvString("SEED_USERS_FILE", "users.yaml"),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %q (%w)", key, value, err)
		}
		return intValue, nil
	}
	return defaultValue, nil
}
