// Package application decide para onde vai uma requisição de sessão: para esta
// instância ou para a instância dona do lease.
package application
