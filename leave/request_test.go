package leave_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
)

func TestStatus_Allows(t *testing.T) {
	actions := []leave.Action{leave.ActionApprove, leave.ActionReject, leave.ActionCancel, leave.ActionModify}

	want := map[leave.Status][]bool{
		leave.StatusPending:  {true, true, true, true},
		leave.StatusApproved: {false, false, true, false},
		leave.StatusRejected: {false, false, false, false},
	}

	for status, allowed := range want {
		for i, a := range actions {
			assert.Equal(t, allowed[i], status.Allows(a), "%s -> %s", status, a)
		}
	}
}

func TestAction_Target(t *testing.T) {
	assert.Equal(t, leave.StatusApproved, leave.ActionApprove.Target())
	assert.Equal(t, leave.StatusRejected, leave.ActionReject.Target())
	assert.Equal(t, leave.StatusRejected, leave.ActionCancel.Target())
	assert.Equal(t, leave.StatusPending, leave.ActionModify.Target())
}

func TestParseLeaveType(t *testing.T) {
	lt, err := leave.ParseLeaveType(" Sick ")
	require.NoError(t, err)
	assert.Equal(t, leave.LeaveSick, lt)

	_, err = leave.ParseLeaveType("sabbatical")
	assert.ErrorIs(t, err, leave.ErrInvalidLeaveType)
}

func TestNewLeaveRequest_DerivesDays(t *testing.T) {
	req, err := leave.NewLeaveRequest("r1", "e1",
		leave.NewDate(2025, time.March, 14), leave.NewDate(2025, time.March, 18),
		leave.LeaveAnnual, "", today)

	require.NoError(t, err)
	assert.Equal(t, 3, req.DaysRequested)
	assert.Equal(t, leave.StatusPending, req.Status)
}

func TestNewLeaveRequest_WeekendOnly_Rejected(t *testing.T) {
	_, err := leave.NewLeaveRequest("r1", "e1",
		leave.NewDate(2025, time.March, 15), leave.NewDate(2025, time.March, 16),
		leave.LeaveAnnual, "", today)

	assert.ErrorIs(t, err, leave.ErrNoBusinessDays)
}

func TestReschedule_LeavesRequestUntouchedOnError(t *testing.T) {
	req, err := leave.NewLeaveRequest("r1", "e1",
		leave.NewDate(2025, time.March, 10), leave.NewDate(2025, time.March, 14),
		leave.LeaveAnnual, "", today)
	require.NoError(t, err)

	err = req.Reschedule(leave.NewDate(2025, time.March, 14), leave.NewDate(2025, time.March, 10))
	assert.ErrorIs(t, err, leave.ErrDateOrderInvalid)
	assert.Equal(t, 5, req.DaysRequested)
	assert.Equal(t, "2025-03-10", req.StartDate.String())

	require.NoError(t, req.Reschedule(leave.NewDate(2025, time.March, 10), leave.NewDate(2025, time.March, 12)))
	assert.Equal(t, 3, req.DaysRequested)
}

func TestLeaveRequest_Clone_IsDeep(t *testing.T) {
	c := "note"
	req := &leave.LeaveRequest{ID: "r1", Comments: &c}

	clone := req.Clone()
	*clone.Comments = "changed"

	assert.Equal(t, "note", *req.Comments)
}
