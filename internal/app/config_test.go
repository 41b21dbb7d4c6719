package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/settlement"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)

	sc := cfg.Settlement()
	assert.Equal(t, ledger.PolicyReject, sc.SettlementPolicy)
	assert.Equal(t, settlement.OverpayClamp, sc.OverpayPolicy)
	assert.False(t, sc.AllowPaidDelete)
	assert.Equal(t, 3, sc.MaxRetries)
	assert.Equal(t, time.UTC.String(), cfg.Location().String())
}

func TestLoadConfigPolicies(t *testing.T) {
	t.Setenv("LEDGER_OVERSETTLE_POLICY", "credit")
	t.Setenv("ORDERS_OVERPAY_POLICY", "reject")
	t.Setenv("ORDERS_ALLOW_PAID_DELETE", "true")
	t.Setenv("REPORT_TIMEZONE", "Europe/Paris")
	t.Setenv("SETTLEMENT_TIMEOUT", "2s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	sc := cfg.Settlement()
	assert.Equal(t, ledger.PolicyCredit, sc.SettlementPolicy)
	assert.Equal(t, settlement.OverpayReject, sc.OverpayPolicy)
	assert.True(t, sc.AllowPaidDelete)
	assert.Equal(t, 2*time.Second, sc.Timeout)
	assert.Equal(t, "Europe/Paris", cfg.Location().String())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"STORE_DRIVER":             "sqlite",
		"LEDGER_OVERSETTLE_POLICY": "forgive",
		"ORDERS_OVERPAY_POLICY":    "keep",
		"REPORT_TIMEZONE":          "Mars/Olympus",
		"SETTLEMENT_MAX_RETRIES":   "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestIsProduction(t *testing.T) {
	var nilCfg *Config
	assert.False(t, nilCfg.IsProduction())
	assert.True(t, (&Config{AppEnv: "production"}).IsProduction())
}
