package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/debtbook/internal/money"
)

func TestReadProducts(t *testing.T) {
	products, err := readProducts(strings.NewReader("name,price,cost_price\nWater 1.5L, 1.50 ,0.60\n\"Gallon, 19L\",6,2.2\n"))
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Water 1.5L", products[0].Name)
	assert.Equal(t, money.MustParse("1.50"), products[0].Price)
	assert.Equal(t, "Gallon, 19L", products[1].Name)
	assert.Equal(t, money.MustParse("2.20"), products[1].CostPrice)
}

func TestReadProductsRejectsBadRows(t *testing.T) {
	cases := map[string]string{
		"empty":    "name,price,cost_price\n",
		"columns":  "name,price,cost_price\nWater,1.00\n",
		"sub-cent": "name,price,cost_price\nWater,1.001,0.50\n",
		"negative": "name,price,cost_price\nWater,-1.00,0.50\n",
		"no name":  "name,price,cost_price\n ,1.00,0.50\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readProducts(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}
