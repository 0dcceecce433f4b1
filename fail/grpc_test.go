//go:build unit

package fail_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGRPCSuite(t *testing.T) {
	suite.Run(t, new(GRPCSuite))
}

type GRPCSuite struct {
	suite.Suite
}

func (suite *GRPCSuite) TestGRPCStatus() {
	suite.Nil(fail.GRPCStatus(nil))

	suite.assertCode(codes.InvalidArgument, fail.BadRequest("nope"))
	suite.assertCode(codes.NotFound, fail.NotFound("nope"))
	suite.assertCode(codes.Unimplemented, fail.MethodNotAllowed("nope"))
	suite.assertCode(codes.Unimplemented, fail.NotImplemented("nope"))
	suite.assertCode(codes.DeadlineExceeded, fail.Timeout("nope"))
	suite.assertCode(codes.Unavailable, fail.Unavailable("nope"))
	suite.assertCode(codes.Internal, fail.Unexpected("nope"))
	suite.assertCode(codes.Internal, errors.New("nope"))

	st := fail.GRPCStatus(fail.BadRequest("numbers are required"))
	suite.Equal("numbers are required", st.Message())
}

// Errors that came out of the gRPC runtime should keep their original code/message.
func (suite *GRPCSuite) TestGRPCStatus_passThrough() {
	err := status.Error(codes.ResourceExhausted, "slow down")
	suite.assertCode(codes.ResourceExhausted, err)
	suite.assertCode(codes.ResourceExhausted, fmt.Errorf("wrapped: %w", err))
}

func (suite *GRPCSuite) TestFromGRPC() {
	suite.Nil(fail.FromGRPC(nil))

	plain := errors.New("not a status")
	suite.Equal(plain, fail.FromGRPC(plain))

	err := fail.FromGRPC(status.Error(codes.InvalidArgument, "bad numbers"))
	suite.True(fail.IsBadRequest(err))
	suite.Equal("bad numbers", err.Error())

	suite.True(fail.IsNotFound(fail.FromGRPC(status.Error(codes.NotFound, ""))))
	suite.True(fail.IsNotImplemented(fail.FromGRPC(status.Error(codes.Unimplemented, ""))))
	suite.True(fail.IsUnavailable(fail.FromGRPC(status.Error(codes.Unavailable, ""))))
	suite.True(fail.IsUnexpected(fail.FromGRPC(status.Error(codes.Internal, ""))))
}

func (suite *GRPCSuite) TestGroup_success() {
	group, _ := fail.NewGroup(context.Background())

	count := int32(0)
	for i := 0; i < 5; i++ {
		group.Go(func() error {
			atomic.AddInt32(&count, 1)
			return nil
		})
	}
	suite.NoError(group.Wait())
	suite.Equal(int32(5), atomic.LoadInt32(&count))
}

// Every failure should be reported, and the first one should cancel the shared context.
func (suite *GRPCSuite) TestGroup_failures() {
	group, ctx := fail.NewGroup(context.Background())

	group.Go(func() error { return fail.NotFound("first") })
	group.Go(func() error { return fail.Unavailable("second") })
	group.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("context was never canceled")
		}
	})

	err := group.Wait()
	suite.Require().Error(err)
	suite.Contains(err.Error(), "first")
	suite.Contains(err.Error(), "second")
	suite.NotContains(err.Error(), "never canceled")
	suite.Error(ctx.Err())
}

func (suite *GRPCSuite) assertCode(expected codes.Code, err error) {
	suite.Require().Equal(expected, fail.GRPCStatus(err).Code())
}
