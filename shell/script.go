package shell

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cjoudrey/gluahttp"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"
)

func getShell(L *lua.LState) *ShellController {
	shell := L.GetGlobal("dirimult_shell")
	ud, ok := shell.(*lua.LUserData)
	if !ok {
		panic("luserdata not right type")
	}
	sc, ok := ud.Value.(*ShellController)
	if !ok {
		panic("shellcontroller not right type")
	}
	return sc
}

func luaCmd(L *lua.LState, name string, run func(*shellcmd) (*Response, error)) int {
	lv := L.ToString(1)
	var cmd *shellcmd
	var err error
	if lv == "" {
		cmd = &shellcmd{cmd: name}
	} else {
		cmd, err = extractFields(name + " " + lv)
		if err != nil {
			log.Err(err).Str("cmd", name).Msg("error-parsing-script-command")
			L.Push(lua.LString("ERROR: " + err.Error()))
			return 1
		}
	}
	r, err := run(cmd)
	if err != nil {
		log.Err(err).Str("cmd", name).Msg("error-executing-script-command")
		L.Push(lua.LString("ERROR: " + err.Error()))
		return 1
	}
	if r == nil {
		return 0
	}
	L.Push(lua.LString(r.message))
	// return number of results pushed to stack.
	return 1
}

func Load(L *lua.LState) int {
	sc := getShell(L)
	return luaCmd(L, "load", sc.load)
}

func Gen(L *lua.LState) int {
	sc := getShell(L)
	return luaCmd(L, "gen", sc.generate)
}

// Fit runs synchronously so the model is ready for the next script line.
func Fit(L *lua.LState) int {
	sc := getShell(L)
	r, err := sc.fitSync()
	if err != nil {
		log.Err(err).Msg("error-executing-fit")
		L.Push(lua.LString("ERROR: " + err.Error()))
		return 1
	}
	L.Push(lua.LString(r.message))
	return 1
}

func Alphas(L *lua.LState) int {
	sc := getShell(L)
	return luaCmd(L, "alphas", sc.alphas)
}

func Shrink(L *lua.LState) int {
	sc := getShell(L)
	return luaCmd(L, "shrink", sc.shrink)
}

func Score(L *lua.LState) int {
	sc := getShell(L)
	return luaCmd(L, "score", sc.score)
}

func Set(L *lua.LState) int {
	lv := L.ToString(1)
	sc := getShell(L)
	r, err := sc.set(&shellcmd{
		cmd:  "set",
		args: strings.Split(lv, " "),
	})
	if err != nil {
		log.Err(err).Msg("error-executing-set")
		L.Push(lua.LString("ERROR: " + err.Error()))
		return 1
	}
	L.Push(lua.LString(r.message))
	return 1
}

func Export(L *lua.LState) int {
	sc := getShell(L)
	return luaCmd(L, "export", sc.export)
}

func (sc *ShellController) script(cmd *shellcmd) (*Response, error) {
	if cmd.args == nil {
		return nil, errors.New("need arguments for script")
	}

	filepath := cmd.args[0]

	L := lua.NewState()
	defer L.Close()

	// Scripts get json encoding and an http client, so they can fetch a
	// remote count table and emit machine-readable results.
	luajson.Preload(L)
	L.PreloadModule("http", gluahttp.NewHttpModule(&http.Client{}).Loader)

	lsc := L.NewUserData()
	lsc.Value = sc

	L.SetGlobal("dirimult_shell", lsc)
	L.SetGlobal("dirimult_load", L.NewFunction(Load))
	L.SetGlobal("dirimult_gen", L.NewFunction(Gen))
	L.SetGlobal("dirimult_fit", L.NewFunction(Fit))
	L.SetGlobal("dirimult_alphas", L.NewFunction(Alphas))
	L.SetGlobal("dirimult_shrink", L.NewFunction(Shrink))
	L.SetGlobal("dirimult_score", L.NewFunction(Score))
	L.SetGlobal("dirimult_set", L.NewFunction(Set))
	L.SetGlobal("dirimult_export", L.NewFunction(Export))

	if err := L.DoFile(filepath); err != nil {
		log.Err(err).Msg("there was a error")
		return nil, err
	}
	return nil, nil
}
