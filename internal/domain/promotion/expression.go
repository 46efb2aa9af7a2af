package promotion

import (
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/cel-go/cel"
)

// Expressions see the evaluation context through these variables.
var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("subtotal", cel.DoubleType),
		cel.Variable("quantity", cel.IntType),
		cel.Variable("promo_code", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("member", cel.BoolType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("total_orders", cel.IntType),
	)
})

// programs caches compiled expressions by source text.
var programs sync.Map

func compileExpression(expr string) (cel.Program, error) {
	if prg, ok := programs.Load(expr); ok {
		return prg.(cel.Program), nil
	}
	env, err := celEnv()
	if err != nil {
		return nil, errors.Wrap(err, "create expression env")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("expression must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build program")
	}
	programs.Store(expr, prg)
	return prg, nil
}

// evalExpression reports whether expr holds for ctx. Expressions that fail to
// compile or evaluate are treated as not satisfied.
func evalExpression(expr string, ctx Context) bool {
	prg, err := compileExpression(expr)
	if err != nil {
		return false
	}

	vars := map[string]any{
		"subtotal":       ctx.Subtotal.InexactFloat64(),
		"quantity":       int64(ctx.Quantity),
		"promo_code":     ctx.PromoCode,
		"channel":        string(ctx.Channel),
		"payment_method": ctx.PaymentMethod,
		"member":         false,
		"tier":           "",
		"total_orders":   int64(0),
	}
	if u := ctx.User; u != nil {
		vars["total_orders"] = int64(u.TotalOrders)
		if u.Membership != nil {
			vars["member"] = true
			vars["tier"] = u.Membership.Tier
		}
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false
	}
	ok, isBool := out.Value().(bool)
	return isBool && ok
}
