// Package domain define contratos e tipos de domínio do controle de admissão:
// categorias de ação, políticas, entradas da blacklist, violações e o contrato
// do Counter Store.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura (Redis, banco relacional).
package domain
