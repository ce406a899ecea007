// Package coordination escolhe, na inicialização, os backends de lease e de
// contador (memória da instância ou Redis compartilhado) a partir de Config.
//
// Quem chama recebe apenas as interfaces de domínio; nenhum call site precisa
// saber qual backend está ativo.
package coordination
