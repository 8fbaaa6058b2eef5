package session

import logx "coefbot/pkg/logx"

func logxNop() logx.Logger { return logx.Nop() }
