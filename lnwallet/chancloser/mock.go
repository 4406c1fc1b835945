package chancloser

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/chancore/input"
	"github.com/lightningnetwork/chancore/lnwallet/chainfee"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/stretchr/testify/mock"
)

// mockChannel is a mocked Channel.
type mockChannel struct {
	mock.Mock
}

// A compile time check to ensure mockChannel implements Channel.
var _ Channel = (*mockChannel)(nil)

func (m *mockChannel) ChannelPoint() wire.OutPoint {
	args := m.Called()

	return args.Get(0).(wire.OutPoint)
}

func (m *mockChannel) IsInitiator() bool {
	args := m.Called()

	return args.Bool(0)
}

func (m *mockChannel) InitShutdown(
	script lnwire.DeliveryAddress) (*lnwire.Shutdown, error) {

	args := m.Called(script)

	return args.Get(0).(*lnwire.Shutdown), args.Error(1)
}

func (m *mockChannel) ReceiveShutdown(msg *lnwire.Shutdown) error {
	args := m.Called(msg)

	return args.Error(0)
}

func (m *mockChannel) ReadyToClose() bool {
	args := m.Called()

	return args.Bool(0)
}

func (m *mockChannel) BeginClosingNegotiation() error {
	args := m.Called()

	return args.Error(0)
}

func (m *mockChannel) LocalBalanceDust() bool {
	args := m.Called()

	return args.Bool(0)
}

func (m *mockChannel) RemoteBalanceDust() bool {
	args := m.Called()

	return args.Bool(0)
}

func (m *mockChannel) CreateCloseProposal(fee btcutil.Amount,
	localScript, remoteScript []byte) (input.Signature, *wire.MsgTx,
	btcutil.Amount, error) {

	args := m.Called(fee, localScript, remoteScript)

	sig, _ := args.Get(0).(input.Signature)
	tx, _ := args.Get(1).(*wire.MsgTx)

	return sig, tx, args.Get(2).(btcutil.Amount), args.Error(3)
}

func (m *mockChannel) CompleteCooperativeClose(localSig,
	remoteSig input.Signature, localScript, remoteScript []byte,
	fee btcutil.Amount) (*wire.MsgTx, btcutil.Amount, error) {

	args := m.Called(localSig, remoteSig, localScript, remoteScript, fee)

	tx, _ := args.Get(0).(*wire.MsgTx)

	return tx, args.Get(1).(btcutil.Amount), args.Error(2)
}

func (m *mockChannel) MarkCoopBroadcasted(tx *wire.MsgTx) error {
	args := m.Called(tx)

	return args.Error(0)
}

// mockCoopFeeEstimator always returns the same absolute fee.
type mockCoopFeeEstimator struct {
	targetFee btcutil.Amount
}

func (m *mockCoopFeeEstimator) EstimateFee(localTxOut, remoteTxOut *wire.TxOut,
	idealFeeRate chainfee.SatPerKWeight) btcutil.Amount {

	return m.targetFee
}
