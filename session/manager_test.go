package session

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/wallet/wallettest"
)

var (
	alice = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func newManager(p *wallettest.Provider) *Manager {
	m := NewManager(p, types.Sepolia(""), nil, nil)
	m.Start()
	return m
}

func TestConnectWithoutProvider(t *testing.T) {
	m := NewManager(nil, types.Sepolia(""), nil, nil)
	m.Start()
	m.Stop()

	err := m.Connect(context.Background())
	assert.True(t, types.IsCode(err, types.ErrProviderUnavailable))
	assert.False(t, m.Session().Connected)
	assert.False(t, m.EnsureNetwork(context.Background()))
}

func TestConnectOnTargetChain(t *testing.T) {
	p := wallettest.New(types.SepoliaChainID, alice, bob)
	m := newManager(p)

	require.NoError(t, m.Connect(context.Background()))
	s := m.Session()
	assert.True(t, s.Connected)
	assert.True(t, s.CorrectNetwork)
	assert.Equal(t, alice, *s.Account)
	assert.Equal(t, int64(types.SepoliaChainID), s.ChainID.Int64())
	assert.Zero(t, p.SwitchCalls)

	signer, err := m.Signer()
	require.NoError(t, err)
	assert.Equal(t, alice, signer.Address())
}

func TestConnectSwitchesNetworkFirst(t *testing.T) {
	p := wallettest.New(1, alice)
	m := newManager(p)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, p.SwitchCalls)
	s := m.Session()
	assert.True(t, s.CorrectNetwork)

	signer, err := m.Signer()
	require.NoError(t, err)
	assert.Equal(t, int64(types.SepoliaChainID), signer.ChainID().Int64())
}

func TestConnectWrongNetwork(t *testing.T) {
	p := wallettest.New(1, alice)
	p.SwitchErr = wallettest.Rejected()
	m := newManager(p)

	err := m.Connect(context.Background())
	assert.True(t, types.IsCode(err, types.ErrWrongNetwork))
	assert.False(t, m.Session().Connected)
	assert.Zero(t, p.RequestCalls)

	_, err = m.Signer()
	assert.True(t, types.IsCode(err, types.ErrNotConnected))
}

func TestConnectRejected(t *testing.T) {
	p := wallettest.New(types.SepoliaChainID, alice)
	p.RequestAccountsErr = wallettest.Rejected()
	m := newManager(p)

	err := m.Connect(context.Background())
	assert.True(t, types.IsCode(err, types.ErrUserRejected))
	assert.False(t, m.Session().Connected)

	p.RequestAccountsErr = errors.New("boom")
	err = m.Connect(context.Background())
	assert.True(t, types.IsCode(err, types.ErrProviderUnavailable))
}

func TestConnectNoAccounts(t *testing.T) {
	m := newManager(wallettest.New(types.SepoliaChainID))
	err := m.Connect(context.Background())
	assert.True(t, types.IsCode(err, types.ErrNotConnected))
}

func TestOverlappingConnectIsRejected(t *testing.T) {
	p := wallettest.New(types.SepoliaChainID, alice)
	m := newManager(p)

	var inner error
	p.BeforeRequestAccounts = func() {
		inner = m.Connect(context.Background())
	}
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, types.IsCode(inner, types.ErrConnectInFlight))
	assert.Equal(t, 1, p.RequestCalls)

	// the guard is released afterwards
	p.BeforeRequestAccounts = nil
	require.NoError(t, m.Connect(context.Background()))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	p := wallettest.New(types.SepoliaChainID, alice)
	m := newManager(p)
	require.NoError(t, m.Connect(context.Background()))

	m.Disconnect()
	m.Disconnect()
	s := m.Session()
	assert.False(t, s.Connected)
	assert.Nil(t, s.Account)
	_, err := m.Signer()
	assert.True(t, types.IsCode(err, types.ErrNotConnected))
}

func TestEmptyAccountsDisconnects(t *testing.T) {
	p := wallettest.New(types.SepoliaChainID, alice)
	m := newManager(p)
	require.NoError(t, m.Connect(context.Background()))

	p.EmitAccounts()
	assert.False(t, m.Session().Connected)
	assert.Nil(t, m.Session().Account)
}

func TestAccountChangeRebindsSigner(t *testing.T) {
	p := wallettest.New(types.SepoliaChainID, alice, bob)
	m := newManager(p)
	require.NoError(t, m.Connect(context.Background()))
	before, err := m.Signer()
	require.NoError(t, err)

	p.EmitAccounts(bob, alice)
	s := m.Session()
	assert.True(t, s.Connected)
	assert.Equal(t, bob, *s.Account)

	after, err := m.Signer()
	require.NoError(t, err)
	assert.Equal(t, bob, after.Address())
	assert.NotSame(t, before, after)
	// no renegotiation on account change
	assert.Zero(t, p.SwitchCalls)
}

func TestChainChangeRebindsSigner(t *testing.T) {
	p := wallettest.New(types.SepoliaChainID, alice)
	m := newManager(p)
	require.NoError(t, m.Connect(context.Background()))

	p.SetChain(big.NewInt(1))
	s := m.Session()
	assert.False(t, s.CorrectNetwork)
	assert.Equal(t, int64(1), s.ChainID.Int64())
	signer, err := m.Signer()
	require.NoError(t, err)
	assert.Equal(t, int64(1), signer.ChainID().Int64())

	p.SetChain(big.NewInt(types.SepoliaChainID))
	assert.True(t, m.Session().CorrectNetwork)
	signer, err = m.Signer()
	require.NoError(t, err)
	_, err = signer.SendValue(context.Background(), bob, big.NewInt(1), nil)
	assert.NoError(t, err)
}

func TestStopUnsubscribes(t *testing.T) {
	p := wallettest.New(types.SepoliaChainID, alice)
	m := newManager(p)
	m.Start()
	assert.Equal(t, 1, p.Listeners())
	require.NoError(t, m.Connect(context.Background()))

	m.Stop()
	m.Stop()
	assert.Zero(t, p.Listeners())

	p.EmitAccounts()
	assert.True(t, m.Session().Connected)
}

func TestSessionIsACopy(t *testing.T) {
	p := wallettest.New(types.SepoliaChainID, alice)
	m := newManager(p)
	require.NoError(t, m.Connect(context.Background()))

	s := m.Session()
	s.ChainID.SetInt64(99)
	*s.Account = bob
	assert.Equal(t, int64(types.SepoliaChainID), m.Session().ChainID.Int64())
	assert.Equal(t, alice, *m.Session().Account)
}
