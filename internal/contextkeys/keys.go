package contextkeys

import "context"

type userIDKey struct{}
type commandKey struct{}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func GetUserID(ctx context.Context) (int64, bool) {
	v := ctx.Value(userIDKey{})
	if v == nil {
		return 0, false
	}
	return v.(int64), true
}

func WithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, commandKey{}, command)
}

func GetCommand(ctx context.Context) (string, bool) {
	v := ctx.Value(commandKey{})
	if v == nil {
		return "", false
	}
	return v.(string), true
}
