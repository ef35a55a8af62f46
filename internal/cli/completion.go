package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/alecthomas/kong"
	"github.com/samber/lo"
)

// pathFlags take file paths and complete as files.
var pathFlags = []string{"--config", "--input", "--raw-text", "--events", "--output-dir", "-o"}

// CompletionCmd generates shell completions
type CompletionCmd struct {
	Shell string `arg:"" enum:"bash,zsh,fish" help:"Shell type (bash, zsh, fish)"`
}

type completionNode struct {
	Subcommands []string
	Flags       []string
}

// completionIndex is the command tree flattened for shell scripts. Node keys
// join command names with "__"; the root is "".
type completionIndex struct {
	Nodes      map[string]completionNode
	EnumByFlag map[string][]string
	KnownPaths []string
}

// Run executes the completion command. The kong context supplies the live
// command model so scripts never drift from the parser.
func (c *CompletionCmd) Run(globals *Globals, ctx *kong.Context) error {
	tmpl, ok := completionScripts[c.Shell]
	if !ok {
		return fmt.Errorf("unsupported shell: %s", c.Shell)
	}
	var model *kong.Node
	if ctx != nil && ctx.Model != nil {
		model = ctx.Model.Node
	}
	return tmpl.Execute(globals.Stdout, buildCompletionIndex(model).script())
}

func buildCompletionIndex(model *kong.Node) completionIndex {
	idx := completionIndex{
		Nodes:      map[string]completionNode{},
		EnumByFlag: map[string][]string{},
	}
	if model != nil {
		idx.add(model, nil)
	}
	idx.KnownPaths = lo.Uniq(append([]string{""}, sortedKeys(idx.Nodes)...))
	return idx
}

func (idx *completionIndex) add(n *kong.Node, path []string) {
	children := lo.Filter(n.Children, func(child *kong.Node, _ int) bool {
		return child != nil && child.Type == kong.CommandNode && !child.Hidden
	})

	var flags []string
	for _, group := range n.AllFlags(true) {
		for _, f := range group {
			if f == nil {
				continue
			}
			tokens := flagCompletionTokens(f)
			flags = append(flags, tokens...)
			values := enumValues(f.Enum)
			if len(values) == 0 {
				continue
			}
			// Global flags repeat at every node; the first one seen wins.
			for _, token := range tokens {
				if _, seen := idx.EnumByFlag[token]; !seen {
					idx.EnumByFlag[token] = values
				}
			}
		}
	}

	idx.Nodes[strings.Join(path, "__")] = completionNode{
		Subcommands: uniqueSorted(lo.FlatMap(children, func(child *kong.Node, _ int) []string {
			return append([]string{child.Name}, child.Aliases...)
		})),
		Flags: uniqueSorted(flags),
	}
	for _, child := range children {
		idx.add(child, append(path[:len(path):len(path)], child.Name))
	}
}

func flagCompletionTokens(f *kong.Flag) []string {
	tokens := []string{"--" + f.Name}
	if f.Short != 0 {
		tokens = append(tokens, "-"+string(f.Short))
	}
	return append(tokens, lo.FilterMap(f.Aliases, func(a string, _ int) (string, bool) {
		a = strings.TrimSpace(a)
		return "--" + a, a != ""
	})...)
}

func enumValues(raw string) []string {
	return lo.FilterMap(strings.Split(raw, ","), func(v string, _ int) (string, bool) {
		v = strings.TrimSpace(v)
		return v, v != ""
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func uniqueSorted(in []string) []string {
	out := lo.Uniq(lo.FilterMap(in, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	}))
	sort.Strings(out)
	return out
}

// completionScript is the template data shared by every shell. Word lists
// are pre-joined with spaces; command names, flags and enum values never
// contain any.
type completionScript struct {
	Paths     []string
	PathFlags string
	Enums     []enumCase
	Nodes     []nodeCase
	Commands  []string
	Globals   []globalFlag
	FileFlags []string
}

type enumCase struct{ Flag, Values string }

type nodeCase struct{ Path, Subcommands, Flags string }

type globalFlag struct{ Long, Values string }

func (idx completionIndex) script() completionScript {
	s := completionScript{
		Paths:     lo.Without(idx.KnownPaths, ""),
		PathFlags: strings.Join(pathFlags, "|"),
		FileFlags: lo.FilterMap(pathFlags, func(f string, _ int) (string, bool) {
			return strings.CutPrefix(f, "--")
		}),
	}
	for _, flag := range sortedKeys(idx.EnumByFlag) {
		s.Enums = append(s.Enums, enumCase{Flag: flag, Values: strings.Join(idx.EnumByFlag[flag], " ")})
	}
	for _, path := range sortedKeys(idx.Nodes) {
		n := idx.Nodes[path]
		s.Nodes = append(s.Nodes, nodeCase{Path: path, Subcommands: strings.Join(n.Subcommands, " "), Flags: strings.Join(n.Flags, " ")})
	}
	root := idx.Nodes[""]
	s.Commands = root.Subcommands
	for _, flag := range root.Flags {
		if long, ok := strings.CutPrefix(flag, "--"); ok {
			s.Globals = append(s.Globals, globalFlag{Long: long, Values: strings.Join(idx.EnumByFlag[flag], " ")})
		}
	}
	return s
}

var completionScripts = map[string]*template.Template{
	"bash": template.Must(template.New("bash").Parse(bashCompletion)),
	"zsh":  template.Must(template.New("zsh").Parse(zshCompletion)),
	"fish": template.Must(template.New("fish").Parse(fishCompletion)),
}

const bashCompletion = `# valet bash completion script
# Add to ~/.bashrc or ~/.bash_profile:
#   eval "$(valet completion bash)"

_valet_is_cmdpath() {
    case "$1" in
{{- range .Paths}}
        {{.}}) return 0 ;;
{{- end}}
        "") return 0 ;;
        *) return 1 ;;
    esac
}

_valet_completions() {
    local cur prev words cword
    _init_completion || return

    local cmdpath="" candidate="" i w
    for ((i=1; i < cword; i++)); do
        w=${words[i]}
        [[ -z "${w}" || "${w}" == -* ]] && continue
        candidate="${candidate:+${candidate}__}${w}"
        _valet_is_cmdpath "${candidate}" || break
        cmdpath="${candidate}"
    done

    case "${prev}" in
        {{.PathFlags}})
            COMPREPLY=($(compgen -f -- "${cur}"))
            return
            ;;
{{- range .Enums}}
        {{.Flag}})
            COMPREPLY=($(compgen -W "{{.Values}}" -- "${cur}"))
            return
            ;;
{{- end}}
    esac

    local subcommands="" flags=""
    case "${cmdpath}" in
{{- range .Nodes}}
        "{{.Path}}")
            subcommands="{{.Subcommands}}"
            flags="{{.Flags}}"
            ;;
{{- end}}
    esac

    if [[ "${cur}" == -* ]]; then
        COMPREPLY=($(compgen -W "${flags}" -- "${cur}"))
    elif [[ -n "${subcommands}" ]]; then
        COMPREPLY=($(compgen -W "${subcommands}" -- "${cur}"))
    elif [[ "${cmdpath}" == "verify" ]]; then
        COMPREPLY=($(compgen -f -X '!*.halo' -- "${cur}"))
    fi
}

complete -F _valet_completions valet
`

const zshCompletion = `#compdef valet
# valet zsh completion script
# Add to ~/.zshrc:
#   eval "$(valet completion zsh)"

_valet_is_cmdpath() {
  case "$1" in
{{- range .Paths}}
    {{.}}) return 0;;
{{- end}}
    "") return 0;;
    *) return 1;;
  esac
}

_valet() {
  local cur="${words[CURRENT]}" prev="${words[CURRENT-1]}"
  local cmdpath="" candidate="" i w
  for ((i=2; i < CURRENT; i++)); do
    w="${words[i]}"
    [[ -z "${w}" || "${w}" == -* ]] && continue
    candidate="${candidate:+${candidate}__}${w}"
    _valet_is_cmdpath "${candidate}" || break
    cmdpath="${candidate}"
  done

  case "${prev}" in
    {{.PathFlags}})
      _files
      return
      ;;
{{- range .Enums}}
    {{.Flag}})
      compadd -- {{.Values}}
      return
      ;;
{{- end}}
  esac

  local -a subcommands flags
  case "${cmdpath}" in
{{- range .Nodes}}
    "{{.Path}}")
      subcommands=({{.Subcommands}})
      flags=({{.Flags}})
      ;;
{{- end}}
  esac

  if [[ "${cur}" == -* ]]; then
    compadd -- ${flags[@]}
  elif (( ${#subcommands[@]} > 0 )); then
    compadd -- ${subcommands[@]}
  elif [[ "${cmdpath}" == "verify" ]]; then
    _files -g '*.halo'
  fi
}

compdef _valet valet
`

const fishCompletion = `# valet fish completion script
# Add to ~/.config/fish/completions/valet.fish

complete -c valet -f
{{- range .Commands}}
complete -c valet -n "__fish_use_subcommand" -a "{{.}}"
{{- end}}
{{- range .Globals}}
complete -c valet -l {{.Long}}{{if .Values}} -xa "{{.Values}}"{{end}}
{{- end}}
{{- range .FileFlags}}
complete -c valet -l {{.}} -rF
{{- end}}
complete -c valet -n "__fish_seen_subcommand_from verify" -F
`
