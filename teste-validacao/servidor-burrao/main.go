package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
)

// Upstream de brinquedo para validar afinidade com várias instâncias do
// gateway: cria um id de sessão quando a requisição não traz um, ecoa o id
// recebido e responde DELETE encerrando a sessão.
func main() {
	name := os.Getenv("SERVER_NAME")
	if name == "" {
		name = "burrao"
	}

	http.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		fmt.Println("Log: Alguém acessou o endpoint /showTela")
	})

	http.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		sid := r.Header.Get("Mcp-Session-Id")
		switch {
		case r.Method == http.MethodDelete:
			fmt.Printf("Log: sessão %s encerrada\n", sid)
			w.WriteHeader(http.StatusNoContent)
			return
		case sid == "":
			sid = uuid.NewString()
			w.Header().Set("Mcp-Session-Id", sid)
			fmt.Printf("Log: nova sessão %s\n", sid)
		}
		fmt.Fprintf(w, "server=%s session=%s via=%s\n", name, sid, r.Header.Get("X-Affinity-Forwarded"))
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	fmt.Printf("Servidor rodando em http://localhost%s\n", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
