package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, "Ghana", cfg.Delivery.Country)
	require.Contains(t, cfg.Delivery.CityRates, "Tamale")
	assert.True(t, cfg.Delivery.CityRates["Tamale"].Equal(decimal.NewFromInt(25)))
	assert.True(t, cfg.Delivery.RegionRates["Northern"].Equal(decimal.NewFromInt(35)))
	assert.True(t, cfg.Delivery.DefaultRate.Equal(decimal.NewFromInt(60)))
	assert.True(t, cfg.Business.CancellationPenaltyRatio.Equal(decimal.NewFromFloat(0.1)))
	assert.Equal(t, 15*time.Second, cfg.Paystack.Timeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DELIVERY_CITY_RATES", "Tamale=30, Bolgatanga = 40")
	t.Setenv("CANCELLATION_PENALTY_PERCENT", "15")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PAYSTACK_BASE_URL", "http://paystack.test/")

	cfg := Load()

	assert.True(t, cfg.Delivery.CityRates["Bolgatanga"].Equal(decimal.NewFromInt(40)))
	assert.True(t, cfg.Delivery.CityRates["Tamale"].Equal(decimal.NewFromInt(30)))
	assert.True(t, cfg.Business.CancellationPenaltyRatio.Equal(decimal.NewFromFloat(0.15)))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "http://paystack.test", cfg.Paystack.BaseURL)
}

func TestParseRates_SkipsMalformed(t *testing.T) {
	rates := parseRates("Tamale=25,broken,Accra=abc")

	assert.Len(t, rates, 1)
	assert.Contains(t, rates, "Tamale")
}
