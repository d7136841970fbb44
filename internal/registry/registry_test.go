package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/config"
	"payrail/internal/models"
)

type stubAdapter struct {
	chain.Adapter
	network models.NetworkIndex
}

func (s stubAdapter) Network() models.NetworkIndex { return s.network }

func TestNew(t *testing.T) {
	r, err := New(
		stubAdapter{network: models.NetworkSolana},
		stubAdapter{network: models.NetworkNear},
		stubAdapter{network: models.NetworkBSC},
	)
	require.NoError(t, err)

	assert.Equal(t, []models.NetworkIndex{models.NetworkNear, models.NetworkBSC, models.NetworkSolana}, r.Networks())
	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, models.NetworkNear, all[0].Network())
	assert.Equal(t, models.NetworkSolana, all[2].Network())

	a, err := r.Get(models.NetworkBSC)
	require.NoError(t, err)
	assert.Equal(t, models.NetworkBSC, a.Network())

	_, err = r.Get(models.NetworkBitcoin)
	assert.ErrorIs(t, err, chain.ErrUnsupportedNetwork)
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(stubAdapter{network: models.NetworkTron}, stubAdapter{network: models.NetworkTron})
	assert.Error(t, err)

	_, err = New(stubAdapter{network: "DOGE"})
	assert.ErrorIs(t, err, chain.ErrUnsupportedNetwork)
}

func TestNetworksIsACopy(t *testing.T) {
	r, err := New(stubAdapter{network: models.NetworkNear})
	require.NoError(t, err)

	networks := r.Networks()
	networks[0] = models.NetworkBitcoin
	assert.Equal(t, []models.NetworkIndex{models.NetworkNear}, r.Networks())
}

func TestBuild(t *testing.T) {
	endpoint := "http://127.0.0.1:1"
	cfg := &config.Config{Chains: map[models.NetworkIndex]config.ChainConfig{
		models.NetworkEthereum: {Network: models.NetworkEthereum, RPCEndpoint: endpoint, ChainID: 1},
		models.NetworkBSC:      {Network: models.NetworkBSC, RPCEndpoint: endpoint, ChainID: 56},
		models.NetworkTron:     {Network: models.NetworkTron, RPCEndpoint: endpoint},
		models.NetworkBitcoin:  {Network: models.NetworkBitcoin, RPCEndpoint: endpoint, Params: "regtest"},
		models.NetworkSolana:   {Network: models.NetworkSolana, RPCEndpoint: endpoint},
		models.NetworkNear:     {Network: models.NetworkNear, RPCEndpoint: endpoint},
		models.NetworkArbitrum: {Network: models.NetworkArbitrum},
	}}

	r, err := Build(cfg, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []models.NetworkIndex{
		models.NetworkNear,
		models.NetworkEthereum,
		models.NetworkBSC,
		models.NetworkTron,
		models.NetworkBitcoin,
		models.NetworkSolana,
	}, r.Networks())

	for _, a := range r.All() {
		assert.True(t, a.Network().Valid())
	}
	bsc, err := r.Get(models.NetworkBSC)
	require.NoError(t, err)
	assert.Equal(t, models.NetworkBSC, bsc.Network())
}

func TestBuild_InvalidParams(t *testing.T) {
	cfg := &config.Config{Chains: map[models.NetworkIndex]config.ChainConfig{
		models.NetworkBitcoin: {Network: models.NetworkBitcoin, RPCEndpoint: "http://127.0.0.1:1", Params: "dogenet"},
	}}
	_, err := Build(cfg, zap.NewNop())
	assert.Error(t, err)
}
