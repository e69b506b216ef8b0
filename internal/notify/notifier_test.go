package notify_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/notify"
	"github.com/alanyoungcy/bondledger/internal/notify/mocks"
)

var discard = slog.New(slog.DiscardHandler)

func TestNotifyFiltersEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Name().Return("mock").AnyTimes()
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, n notify.Notification) error {
			assert.Equal(t, notify.EventRedeemed, n.Event)
			return nil
		},
	).Times(1)

	n := notify.NewNotifier([]notify.Sender{sender}, []string{notify.EventRedeemed, " "}, discard)
	require.True(t, n.Enabled())
	require.NoError(t, n.Notify(context.Background(), notify.Notification{Event: notify.EventPhaseChanged}))
	require.NoError(t, n.Notify(context.Background(), notify.Notification{Event: notify.EventRedeemed}))
}

func TestNotifyContinuesPastFailingSender(t *testing.T) {
	ctrl := gomock.NewController(t)
	failing := mocks.NewMockSender(ctrl)
	failing.EXPECT().Name().Return("failing").AnyTimes()
	failing.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("boom"))

	ok := mocks.NewMockSender(ctrl)
	ok.EXPECT().Name().Return("ok").AnyTimes()
	ok.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

	n := notify.NewNotifier([]notify.Sender{failing, ok}, nil, discard)
	err := n.Notify(context.Background(), notify.Notification{Event: notify.EventDistributed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: boom")
}

func TestFromReceipt(t *testing.T) {
	bond := common.HexToAddress("0xb0")
	orch := common.HexToAddress("0x0c")
	r := domain.Receipt{
		ID:     "r-1",
		Height: 12,
		Events: []domain.Event{
			{Contract: orch, Action: "redeem", Attributes: map[string]string{"bond_token": bond.Hex(), "holders": "2", "total": "837"}},
			{Contract: bond, Action: "update_phase", Attributes: map[string]string{"from": "coupon", "to": "redemption"}},
			{Contract: bond, Action: "update_phase", Attributes: map[string]string{"from": "coupon", "to": "coupon"}},
			{Contract: common.HexToAddress("0xcc"), Action: "transfer_from"},
			{Contract: bond, Action: "burn_from_holder"},
		},
	}

	notes := notify.FromReceipt(r)
	require.Len(t, notes, 2)
	assert.Equal(t, notify.EventRedeemed, notes[0].Event)
	assert.Contains(t, notes[0].Message, "837")
	assert.Equal(t, uint64(12), notes[0].Height)
	assert.Equal(t, "r-1", notes[0].ReceiptID)
	assert.Equal(t, notify.EventPhaseChanged, notes[1].Event)
	assert.Equal(t, bond.Hex(), notes[1].Contract)
}

func TestNotifyReceipt(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Name().Return("mock").AnyTimes()

	var events []string
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, n notify.Notification) error {
			events = append(events, n.Event)
			return nil
		},
	).Times(2)

	n := notify.NewNotifier([]notify.Sender{sender}, nil, discard)
	err := n.NotifyReceipt(context.Background(), domain.Receipt{Events: []domain.Event{
		{Action: "distribute", Attributes: map[string]string{"mints": "2"}},
		{Action: "withdraw_system_fee", Attributes: map[string]string{"recipient": "0xa0"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{notify.EventDistributed, notify.EventFeeWithdrawn}, events)
}
